/*
Package types 提供 CoRAG 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 vector、graph、rag、
scratchpad 等上层模块提供统一的类型契约。跨包共享的错误码和
用量统计类型均定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，区分软失败（可降级）与致命配置错误
  - TokenUsage        — 单次调用的 token 消耗统计
  - UsageAccumulator  — 每查询用量累加器，沿调用链显式传递（替代全局计数器）
*/
package types
