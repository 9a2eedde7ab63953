/*
包 migration 管理编排器的数据库 Schema，基于 golang-migrate 实现，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下，
建立 agents、agent_connections、documents、workflow_executions 与
workflow_steps 五张表。PostgreSQL 与 SQLite 额外创建部分唯一索引，
保证同一文档最多只有一个 PENDING/RUNNING 执行；MySQL 不支持部分索引，
由存储层在事务内检查。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - Config：数据库类型、连接 URL、迁移表名与锁超时。
  - CLI：migrate 子命令的格式化输出，Run 按子命令名分发。

SQLite 方言使用纯 Go 的 modernc.org/sqlite 驱动，无需 CGO。
*/
package migration
