/*
Package main 提供工作流编排引擎的可执行入口。

# 概述

cmd/orchestrator 以同一个二进制运行编排引擎的各个角色：serve 提供
HTTP API（启动运行、查询进度、取消、清理、图管理与状态推送），
worker 从队列消费 agent 执行作业与协调作业，sweep 执行一次超时清理，
migrate 管理数据库结构。

# 核心类型

  - App          — 组件装配：数据库连接池、存储、队列、调度器、聚合器、清理器
  - Server       — API 与 Metrics 双端口服务器及优雅关闭
  - Middleware   — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、worker、sweep、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、Metrics、CORS、RateLimiter（基于 IP）
  - 内存队列只能由同进程消费，serve 会自动运行内联 worker
  - worker 按 orchestrator.sweep_interval 周期性清理超时运行
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
