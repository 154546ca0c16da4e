// Package certs keeps the agent's self-signed localhost certificate and
// serves TLS and plain HTTP on one listener.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
)

const (
	certFileName = "cert.pem"
	keyFileName  = "key.pem"

	validity     = 365 * 24 * time.Hour
	renewBefore  = 30 * 24 * time.Hour
	organization = "PC/SC Agent"
)

// DefaultDir returns the per-user certificate directory.
func DefaultDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "pcsc-agent", "certs"), nil
}

// LoadOrGenerate returns a server TLS config for the certificate in dir.
// A missing, unreadable or nearly expired certificate is replaced.
func LoadOrGenerate(dir string) (*tls.Config, error) {
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	switch {
	case err != nil && !os.IsNotExist(err):
		logging.Warn(logging.CatSystem, "Stored certificate unusable, generating a new one", map[string]any{
			"path":  certPath,
			"error": err.Error(),
		})
		cert, err = generate(dir, certPath, keyPath)
	case err != nil:
		cert, err = generate(dir, certPath, keyPath)
	case needsRenewal(cert, time.Now()):
		logging.Info(logging.CatSystem, "Renewing localhost certificate", map[string]any{"path": certPath})
		cert, err = generate(dir, certPath, keyPath)
	}
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func needsRenewal(cert tls.Certificate, now time.Time) bool {
	if len(cert.Certificate) == 0 {
		return true
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return true
	}
	return leaf.NotAfter.Before(now.Add(renewBefore))
}

// generate writes a new P-256 certificate for localhost and loads it back.
func generate(dir, certPath, keyPath string) (tls.Certificate, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   "localhost",
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return tls.Certificate{}, fmt.Errorf("save certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return tls.Certificate{}, fmt.Errorf("save key: %w", err)
	}

	logging.Info(logging.CatSystem, "Generated localhost certificate", map[string]any{
		"path":    certPath,
		"expires": template.NotAfter.Format(time.RFC3339),
	})
	return tls.X509KeyPair(certPEM, keyPEM)
}
