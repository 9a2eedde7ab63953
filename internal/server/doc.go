/*
包 server 提供 HTTP 服务器生命周期管理。

# 核心类型

  - Manager：封装 net/http.Server，提供 Start/Run/Shutdown。
    serve 命令分别为 API 与 metrics 端口各创建一个 Manager。
  - Config：监听地址、读写超时、空闲超时、最大请求头与优雅关闭超时。
    ConfigFor 由 config.ServerConfig 生成。

# 主要能力

  - Run 阻塞到 ctx 结束或服务异常退出，随后在 ShutdownTimeout 内排空请求
  - Errors() 返回异步错误通道
  - Addr 在监听后返回实际地址，便于测试使用 ":0"
*/
package server
