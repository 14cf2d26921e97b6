package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNoCertificate is returned by the TLS handshake before any certificate
// has been loaded
var ErrNoCertificate = errors.New("no certificate loaded")

// certPair names the files of a certificate and its key
type certPair struct {
	CertPath string
	KeyPath  string
}

// certHolder serves the current certificate to TLS handshakes. Swapping it
// affects new handshakes only; open connections keep their certificate.
type certHolder struct {
	current atomic.Pointer[tls.Certificate]
}

func (h *certHolder) set(cert *tls.Certificate) {
	h.current.Store(cert)
}

func (h *certHolder) loaded() bool {
	return h.current.Load() != nil
}

func (h *certHolder) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	if cert := h.current.Load(); cert != nil {
		return cert, nil
	}
	return nil, ErrNoCertificate
}

func (h *certHolder) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: h.getCertificate,
	}
}

// loadCertificate reads and parses a PEM certificate/key pair
func loadCertificate(pair certPair) (*tls.Certificate, error) {
	if pair.CertPath == "" || pair.KeyPath == "" {
		return nil, errors.New("certificate and key paths are required")
	}
	cert, err := tls.LoadX509KeyPair(pair.CertPath, pair.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// commonName returns the subject common name of the leaf certificate
func commonName(cert *tls.Certificate) string {
	if cert == nil || cert.Leaf == nil {
		return ""
	}
	return cert.Leaf.Subject.CommonName
}
