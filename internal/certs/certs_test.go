package certs

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func leaf(t *testing.T, cfg *tls.Config) *x509.Certificate {
	t.Helper()
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(cfg.Certificates))
	}
	cert, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

func TestLoadOrGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	first, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerate() = %v", err)
	}
	cert := leaf(t, first)
	if cert.Subject.CommonName != "localhost" {
		t.Errorf("common name = %q, want localhost", cert.Subject.CommonName)
	}
	if err := cert.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("certificate not valid for 127.0.0.1: %v", err)
	}
	if first.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", first.MinVersion)
	}

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	if err != nil {
		t.Fatalf("key not saved: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key permissions = %o, want 600", perm)
	}

	second, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerate() second call = %v", err)
	}
	if leaf(t, second).SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Error("existing certificate was not reused")
	}
}

func TestLoadOrGenerate_ReplacesCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, certFileName), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyFileName), []byte("junk"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerate() = %v", err)
	}
	leaf(t, cfg)
}

func TestNeedsRenewal(t *testing.T) {
	cfg, err := LoadOrGenerate(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrGenerate() = %v", err)
	}
	cert := cfg.Certificates[0]

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"fresh", time.Now(), false},
		{"within renewal window", time.Now().Add(validity - renewBefore + time.Hour), true},
		{"expired", time.Now().Add(2 * validity), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsRenewal(cert, tt.now); got != tt.want {
				t.Errorf("needsRenewal() = %v, want %v", got, tt.want)
			}
		})
	}

	if !needsRenewal(tls.Certificate{}, time.Now()) {
		t.Error("empty certificate should need renewal")
	}
}

func TestMuxListener(t *testing.T) {
	cfg, err := LoadOrGenerate(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrGenerate() = %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	mux := NewMuxListener(ln, cfg)
	defer mux.Close()

	// Echo one line per connection.
	go func() {
		for {
			conn, err := mux.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadBytes('\n')
				if err != nil {
					return
				}
				conn.Write(line)
			}()
		}
	}()

	addr := ln.Addr().String()

	plain, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer plain.Close()
	echo(t, plain, "plain\n")

	secure, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("tls.Dial() = %v", err)
	}
	defer secure.Close()
	echo(t, secure, "secure\n")
}

func echo(t *testing.T, conn net.Conn, msg string) {
	t.Helper()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte(msg)) {
		t.Errorf("echo = %q, want %q", got, msg)
	}
}
