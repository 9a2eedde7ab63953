package tlsutil

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)

	aead := map[uint16]bool{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384:  true,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:    true,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:  true,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:    true,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305:   true,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:     true,
	}
	for _, cs := range cfg.CipherSuites {
		assert.True(t, aead[cs], "non-AEAD cipher suite %d", cs)
	}
}

func TestSecureTransport(t *testing.T) {
	tr := SecureTransport()
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, 16, tr.MaxIdleConnsPerHost)
	assert.Zero(t, tr.MaxConnsPerHost)
}

func TestSecureTransport_Options(t *testing.T) {
	tr := SecureTransport(WithMaxConnsPerHost(4), WithResponseHeaderTimeout(time.Minute))
	assert.Equal(t, 4, tr.MaxConnsPerHost)
	assert.Equal(t, 4, tr.MaxIdleConnsPerHost)
	assert.Equal(t, time.Minute, tr.ResponseHeaderTimeout)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15*time.Second, WithMaxConnsPerHost(2))
	assert.Equal(t, 15*time.Second, client.Timeout)
	require.NotNil(t, client.Transport)
}
