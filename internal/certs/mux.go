package certs

import (
	"bufio"
	"crypto/tls"
	"net"
)

// recordTypeHandshake is the first byte of every TLS client hello.
const recordTypeHandshake = 0x16

// MuxListener accepts both TLS and plain connections on one port, telling
// them apart by the first byte the client sends.
type MuxListener struct {
	net.Listener
	config *tls.Config
}

// NewMuxListener wraps ln.
func NewMuxListener(ln net.Listener, config *tls.Config) *MuxListener {
	return &MuxListener{Listener: ln, config: config}
}

// Accept returns the next connection. The protocol is sniffed on the
// connection's first Read or Write, under whatever deadline the server has
// set by then, so a silent client cannot stall Accept.
func (m *MuxListener) Accept() (net.Conn, error) {
	conn, err := m.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &sniffConn{Conn: conn, config: m.config}, nil
}

// sniffConn becomes either the raw connection or a TLS server on top of it
// once the first byte has arrived.
type sniffConn struct {
	net.Conn
	config *tls.Config
	inner  net.Conn
	err    error
}

func (c *sniffConn) decide() {
	if c.inner != nil || c.err != nil {
		return
	}
	br := bufio.NewReaderSize(c.Conn, 16)
	first, err := br.Peek(1)
	if err != nil {
		c.err = err
		return
	}

	plain := &bufferedConn{Conn: c.Conn, r: br}
	if first[0] == recordTypeHandshake {
		c.inner = tls.Server(plain, c.config)
	} else {
		c.inner = plain
	}
}

func (c *sniffConn) Read(b []byte) (int, error) {
	c.decide()
	if c.err != nil {
		return 0, c.err
	}
	return c.inner.Read(b)
}

func (c *sniffConn) Write(b []byte) (int, error) {
	c.decide()
	if c.err != nil {
		return 0, c.err
	}
	return c.inner.Write(b)
}

func (c *sniffConn) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return c.Conn.Close()
}

// bufferedConn replays what was peeked before reading the connection.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
