// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package apitool 将声明式 API 描述（OpenAPI 风格，JSON 或 YAML）转换为
可直接调用的代理工具。

解析阶段急切展开全部 $ref 引用并检测引用环；每个操作生成一个工具，
名称取 operationId，缺省回退为 method_path。调用阶段按工具维度施加
限流窗口与熔断器，按配置注入凭据（bearer、api key、basic），并可
通过规则对供应商响应做字段重命名、会话标记注入与排序归一化。

参数校验（必填字段、基本类型、枚举）在任何网络 I/O 之前完成。
*/
package apitool
