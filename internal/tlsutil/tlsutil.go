package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig TLS 1.2+，仅 AEAD 密码套件
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// TransportOption 调整出站连接参数
type TransportOption func(*http.Transport)

// WithMaxConnsPerHost 限制到同一 Agent 接口的并发连接数
func WithMaxConnsPerHost(n int) TransportOption {
	return func(t *http.Transport) {
		t.MaxConnsPerHost = n
		if n > 0 && t.MaxIdleConnsPerHost > n {
			t.MaxIdleConnsPerHost = n
		}
	}
}

// WithResponseHeaderTimeout 等待响应头的超时
func WithResponseHeaderTimeout(d time.Duration) TransportOption {
	return func(t *http.Transport) { t.ResponseHeaderTimeout = d }
}

// SecureTransport 返回加固 TLS 的 Transport
func SecureTransport(opts ...TransportOption) *http.Transport {
	t := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SecureHTTPClient 出站 Agent 调用使用的 HTTP 客户端
func SecureHTTPClient(timeout time.Duration, opts ...TransportOption) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(opts...),
	}
}
