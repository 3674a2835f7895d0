// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package resilience 提供每工具身份的熔断器与限流窗口。

熔断器状态机：closed → 连续失败达到阈值后 open → 冷却期结束后 half-open
（恰好允许一次试探调用）→ 成功则 closed 并清零失败计数，失败则重新 open。
打开状态下的调用以 CIRCUIT_OPEN 快速失败，不发起任何下游请求。

限流窗口基于令牌桶实现滚动窗口预算，Allow 在并发调用下安全。
*/
package resilience
