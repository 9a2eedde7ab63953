// Package tlsutil 提供出站 HTTP 客户端的 TLS 加固配置（TLS 1.2+，仅 AEAD 密码套件），
// Agent 执行器通过它调用 OpenAI 兼容接口。
package tlsutil
