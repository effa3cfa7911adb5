// Package quic carries envelopes over a single bidirectional QUIC stream per
// connection. Frames are prefixed with their length as an 8-byte big-endian
// integer; a zero-length frame is a hello or keepalive and never surfaces
// from Receive.
package quic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/serversignal/internal/core/protocol"
)

// ALPN is the application protocol negotiated on every connection.
const ALPN = "serversignal"

const (
	// DefaultIdleTimeout is the default connection idle timeout
	DefaultIdleTimeout = 30 * time.Second

	// DefaultHandshakeTimeout bounds the wait for the client's stream.
	DefaultHandshakeTimeout = 10 * time.Second
)

// SelfSignedTLS generates a self-signed server certificate for localhost, for
// development.
func SelfSignedTLS() (*tls.Config, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"serversignal"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: privateKey}},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// InsecureClientTLS accepts any server certificate. Development only.
func InsecureClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

func quicConfig(config protocol.Config) *quic.Config {
	idle := DefaultIdleTimeout
	if config.KeepAlive > 0 && 2*config.KeepAlive > idle {
		idle = 2 * config.KeepAlive
	}
	return &quic.Config{
		MaxIdleTimeout:       idle,
		KeepAlivePeriod:      config.KeepAlive,
		HandshakeIdleTimeout: DefaultHandshakeTimeout,
	}
}
