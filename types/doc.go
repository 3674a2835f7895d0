// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package types 提供 Toolgate 沙箱的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workspace、session、command、
coderun、fetch、search、apitool 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - ToolSchema        — 工具定义（name + description + JSON Schema parameters）
  - ToolResult        — 工具执行结果

# 错误分类

校验类错误（INVALID_INPUT、QUOTING、SCHEMA_*）在任何副作用之前本地解决；
策略类错误（PERMISSION_DENIED、COMMAND_BLOCKED、SSRF_BLOCKED）表示请求被
安全策略拒绝；执行类错误（TIMEOUT、NOT_FOUND、RUNTIME_ERROR 等）作为结构化
结果返回给调用方的 agent 循环，由其决定重试、重新规划或放弃。
*/
package types
