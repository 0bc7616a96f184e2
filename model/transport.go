package model

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Timeouts bound each phase of a generation call.
type Timeouts struct {
	Connect time.Duration
	Write   time.Duration
	Read    time.Duration
}

// DefaultTimeouts are 30s connect, 30s write and 60s read.
var DefaultTimeouts = Timeouts{
	Connect: 30 * time.Second,
	Write:   30 * time.Second,
	Read:    60 * time.Second,
}

// NewHTTPClient returns an *http.Client whose connections enforce per-operation
// write and read deadlines on top of the dial timeout. Provider SDKs accept the
// client through their WithHTTPClient options.
func NewHTTPClient(t Timeouts) *http.Client {
	dialer := &net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: t.Read, write: t.Write}, nil
		},
	}
	return &http.Client{Transport: transport}
}

// deadlineConn refreshes the read/write deadline before every operation so an
// idle phase, not the whole exchange, is bounded.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}
