/*
Package workflow 提供 agent 流水线的编排引擎。

# 概述

流水线由 agent（节点）与 connection（有向边）组成。每次针对一份文档
启动运行时，编译器根据当前激活的图生成一组步骤，调度器按依赖关系
把就绪步骤作为作业投递到队列，worker 执行 agent 后回调调度器推进
后继步骤。所有状态写入都是带前置状态守卫的迁移，并发回调无需加锁。

# 核心类型

  - Graph / Edge        — 不可变邻接视图，校验与编译共用
  - Compiler / Plan     — 从图快照生成运行的步骤与层级
  - Scheduler           — 运行与步骤状态机：启动、完成、失败、取消、对账
  - Runner              — worker 侧作业处理：组装输入、调用执行器、回报结果
  - Aggregator          — 进度统计与运行快照
  - Sweeper             — 超时运行清理
  - GraphService        — agent 与 connection 管理，写入时做环检测

# 状态

运行：PENDING → RUNNING → COMPLETED | FAILED | CANCELLED

步骤：PENDING | WAITING_INPUTS → RUNNING → COMPLETED | FAILED，
未启动的步骤可被置为 SKIPPED。
*/
package workflow
