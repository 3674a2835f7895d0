// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package session 提供会话注册表与会话生命周期管理。

# 模型

会话表是一个由单个互斥锁守护的 map，锁的范围严格限定在结构性变更
（创建 / 驱逐 / 查找），操作体在锁外执行。每个会话持有一个容量为 1 的
独占槽位（semaphore.Weighted），同一会话的操作串行化，不同会话完全并行。

# 生命周期

首次引用即创建 → 每次访问更新 last_accessed → 空闲超过 TTL 或显式关闭
后驱逐。达到会话上限时优先驱逐已过期会话，否则驱逐最久未使用者。
变量状态随驱逐销毁；工作区目录仅在显式关闭时删除。
*/
package session
