/*
包 persistence 提供 workflow.Store 的 GORM 实现。

表结构与 internal/migration 中的 SQL 迁移一致：agents、
agent_connections、documents、workflow_executions、workflow_steps。
步骤与执行的状态变更使用带状态条件的 UPDATE（WHERE id = ? AND
status IN ?），以受影响行数判断是否赢得守卫；记录不存在映射为
NotFound，唯一约束冲突映射为 Conflict。CreateRun 在事务中检查
同一文档是否已有进行中的执行，并一次性写入执行与全部步骤。
*/
package persistence
