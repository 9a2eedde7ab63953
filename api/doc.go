// Package api 定义编排服务 HTTP 接口的请求与响应结构。
//
// # 接口概览
//
//   - POST   /api/v1/runs              启动运行
//   - GET    /api/v1/runs              列出运行
//   - GET    /api/v1/runs/{id}         运行详情（步骤与进度）
//   - GET    /api/v1/runs/{id}/status  轻量轮询载荷
//   - GET    /api/v1/runs/{id}/stream  websocket 状态推送
//   - DELETE /api/v1/runs/{id}         取消运行
//   - POST   /api/v1/cleanup           触发超时清理
//   - /api/v1/agents、/api/v1/connections、/api/v1/graph  流水线配置
//
// 所有 JSON 响应使用统一信封：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// 处理器位于 api/handlers。
package api
