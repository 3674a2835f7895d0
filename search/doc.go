// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package search 通过外部搜索后端为代理提供多垂直领域查询。

引擎（web、news、finance）随每次调用传入而非构造时固定，单个
Provider 实例即可服务所有垂直领域。finance 引擎额外返回行情报价。

未知引擎、时间过滤器或格式错误的区域设置在任何网络 I/O 之前拒绝。
*/
package search
