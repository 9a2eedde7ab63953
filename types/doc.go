/*
Package types 提供编排引擎各层共享的错误体系。

# 概述

types 是最底层的公共包，不依赖任何内部包。workflow、persistence、queue、
api 等上层模块通过 Error / ErrorCode 统一表达失败原因，HTTP 层据此映射状态码。

# 错误分类

  - VALIDATION_ERROR       — 请求非法（成环、自环、图结构异常），不做任何持久化
  - NOT_FOUND              — 未知的 agent / connection / document / run / step
  - CONFLICT               — 重复连接、文档已有进行中的运行、取消终态运行
  - EXTERNAL_SERVICE_ERROR — agent 调用或队列失败，记录在步骤上并传播到运行
  - TIMEOUT                — 仅由清理任务强制失败时产生
  - NO_ACTIVE_AGENTS       — 没有激活的 agent，无法编译运行
  - INTERNAL_ERROR         — 其他内部错误

# 工具函数

AsError / IsErrorCode / IsRetryable / GetErrorCode 支持 errors.As 链式查找，
可以穿透 fmt.Errorf("...: %w", err) 包装。
*/
package types
