// Copyright (c) Toolgate Authors.
// Licensed under the MIT License.

/*
Package command 在会话工作区内校验并执行允许名单中的命令。

# 校验流水线（首个失败即返回）

 1. 空命令 → INVALID_INPUT
 2. 原始文本元字符扫描（管道、分号、&&、||、重定向、反引号、$()、换行）
    → COMMAND_BLOCKED。在分词之前检查，从源头封死 shell 逃逸类漏洞。
 3. shell 词法分词；引号不配对 → QUOTING
 4. 首 token 必须是裸名且在固定允许名单内；shell 与网络抓取二进制被
    明确排除 → COMMAND_BLOCKED
 5. 工作目录强制为会话工作区，硬性墙钟超时；超时杀死整个进程组并返回
    独立的 TIMEOUT 错误，绝不返回被截断的成功
 6. 二进制无法解析 → NOT_FOUND

输出整体捕获（非流式），按配置上限截断。非零退出码是命令自身的失败，
作为结构化结果返回而非错误。
*/
package command
