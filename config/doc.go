// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

// Package config 提供 Toolgate 的统一配置：默认值 → YAML 文件 →
// 环境变量三级覆盖，带显式校验。
package config
