/*
包 queue 提供作业队列与消费 worker。

# 核心类型

  - Queue：在 workflow.JobQueue 之上增加 Dequeue/Ack/Depth/Ping/Close
  - RedisQueue：基于 Redis List + Hash，多进程共享，作业在重启后保留
  - MemoryQueue：进程内 FIFO，用于 serve 内联 worker 与测试
  - Worker：通过 internal/pool 限制并发，errgroup 统一监管消费循环、
    队列深度上报与周期任务（清理扫描）

# 失败处理

Agent 执行作业失败后 worker 会投递一个 coordinator 作业，
由调度器重新计算该运行的可执行前沿。校验类与不存在类错误不会触发。
*/
package queue
