/*
包 metrics 提供基于 Prometheus 的编排引擎指标采集能力。

# 概述

Collector 通过 promauto 注册所有指标，按 namespace 隔离。
cmd/orchestrator 在独立端口通过 promhttp 暴露 /metrics。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 运行指标：启动数、按终态分组的完成数与耗时。
  - 步骤指标：状态转换计数、按 agent 分组的执行耗时。
  - 队列指标：入队/处理结果、处理耗时、积压深度。
  - Agent 指标：调用次数、延迟、prompt/completion Token 用量。
  - 清理指标：清理次数，以及被强制失败/跳过的运行与步骤数。
  - 数据库指标：活跃/空闲连接数。
*/
package metrics
