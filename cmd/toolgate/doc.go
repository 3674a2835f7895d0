// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Toolgate 服务入口：加载配置、组装网关组件并暴露 HTTP API。

端点：

	POST   /v1/command                  在会话工作区内执行白名单命令
	POST   /v1/code                     通过沙箱运行时执行代码
	POST   /v1/fetch                    批量抓取网页（SSRF 防护）
	POST   /v1/search                   多垂直领域搜索
	GET    /v1/sessions/{id}/variables  查看会话变量
	DELETE /v1/sessions/{id}            关闭会话
	GET    /healthz                     健康检查
	GET    /metrics                     Prometheus 指标
*/
package main
