// Package certs generates self-signed server certificates for development
// and tests.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertificateError represents a certificate-related error (generation, writing).
type CertificateError struct {
	// Operation describes what certificate operation failed
	Operation string
	// Path is the certificate file path (if applicable)
	Path string
	// Underlying error
	Err error
}

func (e *CertificateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("certificate error during %s (file: %s): %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("certificate error during %s: %v", e.Operation, e.Err)
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}

// Params holds parameters for generating a server certificate.
type Params struct {
	// CommonName is the CN field (default: localhost)
	CommonName string
	// Organization is the O field
	Organization string
	// DNSNames are the DNS Subject Alternative Names
	DNSNames []string
	// IPAddresses are the IP Subject Alternative Names
	IPAddresses []net.IP
	// ValidDays is certificate validity in days
	ValidDays int
}

// DefaultParams returns parameters for a loopback development certificate.
func DefaultParams() Params {
	return Params{
		CommonName:   "localhost",
		Organization: "embedsrv development",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		ValidDays:    365,
	}
}

// ServerCert represents a generated server certificate.
type ServerCert struct {
	// CertPEM is the certificate in PEM format
	CertPEM []byte
	// KeyPEM is the private key in PEM format
	KeyPEM []byte
	// Certificate is the parsed x509 certificate
	Certificate *x509.Certificate
}

// GenerateSelfSigned creates an RSA 2048-bit, SHA-256 signed certificate
// valid for server authentication.
func GenerateSelfSigned(params Params) (*ServerCert, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_key", Err: err}
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &CertificateError{Operation: "generate_serial", Err: err}
	}

	validDays := params.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	notBefore := time.Now().Add(-time.Minute)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{params.Organization},
			CommonName:   params.CommonName,
		},
		NotBefore: notBefore,
		NotAfter:  notBefore.AddDate(0, 0, validDays),

		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},

		DNSNames:    params.DNSNames,
		IPAddresses: params.IPAddresses,

		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, &CertificateError{Operation: "create_certificate", Err: err}
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, &CertificateError{Operation: "parse_certificate", Err: err}
	}

	return &ServerCert{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM: pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		}),
		Certificate: cert,
	}, nil
}

// WriteFiles writes the certificate and key as PEM files into dir and returns
// their paths. The key file is readable by the owner only.
func (sc *ServerCert) WriteFiles(dir string) (certPath, keyPath string, err error) {
	certPath = filepath.Join(dir, "server.crt")
	keyPath = filepath.Join(dir, "server.key")

	if err := os.WriteFile(certPath, sc.CertPEM, 0644); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: certPath, Err: err}
	}
	if err := os.WriteFile(keyPath, sc.KeyPEM, 0600); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: keyPath, Err: err}
	}
	return certPath, keyPath, nil
}

// CertPool returns a pool containing only this certificate, for clients that
// should trust it.
func (sc *ServerCert) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(sc.Certificate)
	return pool
}
