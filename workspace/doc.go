// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package workspace 提供会话工作区解析与路径守卫。

# 概述

每个会话拥有 <root>/<session_id>/ 下的独占目录。Guard 对候选路径做
规范化（绝对化、符号链接解析、清理 ".." 段），仅当规范化结果等于某个
允许根或以其为路径分隔符边界前缀时放行。

# 安全默认值

  - 全局临时目录访问默认拒绝（AllowTemp 选择启用）
  - 调用方工作目录访问默认拒绝（AllowCallerCwd，仅限开发环境）
  - 会话 ID 限制在文件系统安全字符集内，杜绝遍历向量

# 错误

越界路径返回 PERMISSION_DENIED；目标缺失返回 NOT_FOUND。
*/
package workspace
