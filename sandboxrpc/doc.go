// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package sandboxrpc 是外部沙箱运行时的瘦 RPC 门面。

重量级代码执行与文件 I/O 委托给运行时完成；本包只负责 JSON/HTTP 传输、
请求标识注入，以及把传输层失败映射到沙箱错误分类
（截止超时 → TIMEOUT，其余 → UPSTREAM_ERROR，可重试）。
*/
package sandboxrpc
