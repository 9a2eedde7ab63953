/*
包 database 负责打开编排器的关系型数据库并管理其连接池。

# 概述

Open 按配置的驱动（postgres、mysql、sqlite）选择 GORM 方言，并开启
TranslateError，使唯一约束冲突以 gorm.ErrDuplicatedKey 返回，供
persistence 映射为冲突错误。PoolManager 封装连接池参数、后台健康检查
与连接数指标上报。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close()，Close 会停止健康检查协程。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 事务

RetryTransaction 在死锁、序列化失败、SQLite 写锁等可重试错误时指数退避
重试，业务错误原样返回。创建执行记录时使用它保证运行与步骤原子写入。
*/
package database
