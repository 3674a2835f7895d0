// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package coderun 跨多轮对话持久化沙箱代码执行的变量状态。

实际执行委托给外部运行时（sandboxrpc）。运行时在文本输出末尾附加固定
哨兵分隔符包裹的 key=value 状态块；本包提取该块、合并进会话变量并从
用户可见输出中剥离。哨兵缺失或格式错误视为"无状态更新"，不是错误。

失败语义是非提交式的：RPC 超时或运行时失败不合并任何部分状态，会话
变量保持上一轮的值。请求超时被钳制到硬性上限，与调用方输入无关。
*/
package coderun
