/*
Package handlers 提供编排服务 HTTP API 的请求处理器实现。

# 概述

handlers 包实现运行管理、Agent 图管理、状态推送与健康检查端点。
所有 Handler 均遵循标准 net/http 接口，通过 Register 挂载到
http.ServeMux（Go 1.22 方法 + 路径模式），并通过 Swagger 注解生成文档。
Handler 只依赖消费方接口，领域逻辑位于 workflow 包。

# 核心类型

  - RunHandler      — 启动、查询、轮询、取消运行与清理卡死运行
  - GraphHandler    — Agent 与连接 CRUD，以及带层级与校验结果的图视图
  - StreamHandler   — WebSocket 运行状态推送，运行结束后关闭
  - HealthHandler   — /health、/healthz、/ready、/version
  - Response        — 统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ResponseWriter  — 包装 http.ResponseWriter 以捕获状态码与字节数

# 错误处理

WriteError 接受任意 error：*types.Error 按其 HTTPStatus（缺省时按错误码）
映射状态码，其他错误一律作为 500 返回且不暴露细节。
*/
package handlers
