package engine

import (
	"crypto/tls"
	"errors"
	"fmt"
)

// TLSOpts carries PEM-encoded server credentials for one connection.
type TLSOpts struct {
	Cert []byte
	Key  []byte
}

// InitTLS installs credentials for the handshake of an accepted connection on
// a TLS listener. It must be called while handling EvAccept; a connection
// left without credentials fails its handshake and is closed.
func (c *Conn) InitTLS(opts TLSOpts) error {
	if !c.accepted {
		return errors.New("engine: TLS can only be initialized on accepted connections")
	}

	cfg, err := NewTLSConfigFromMemory(opts.Cert, opts.Key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tlsCfg = cfg
	c.mu.Unlock()
	return nil
}

// NewTLSConfigFromMemory creates a server TLS configuration from an
// in-memory certificate chain and private key (PEM format).
func NewTLSConfigFromMemory(certPEM, keyPEM []byte) (*tls.Config, error) {
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return nil, errors.New("engine: empty TLS certificate or key")
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate from memory: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}, nil
}

// TLSState returns the negotiated TLS parameters once the handshake has
// completed.
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tlsState == nil {
		return tls.ConnectionState{}, false
	}
	return *c.tlsState, true
}
