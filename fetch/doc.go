// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package fetch 为代理工具提供带 SSRF 防护的网页抓取。

每个 URL 在任何网络 I/O 之前先过防护检查：仅允许 http/https，主机名
解析出的全部地址必须是公网可路由地址，解析失败按拒绝处理（fail
closed）。通过检查的页面经 x/net/html 提取标题与正文文本。

批量抓取通过 errgroup 限制并发，并在调度轮次之间检查累计字符预算；
预算耗尽后剩余 URL 标记为跳过而不再发起请求。可选的 redis 缓存使
跨会话的重复抓取只命中一次网络，缓存故障降级为未命中。
*/
package fetch
