// Package transport owns the long-lived HTTP connections the agent keeps to
// the inspection API and to the cluster manager.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/http2"
)

const unixPrefix = "unix://"

// State is the lifecycle state of a Conn.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// Options describes the endpoint a Conn talks to.
type Options struct {
	// Address is host:port or unix:///path/to.sock.
	Address string
	// Timeout bounds a whole request, including reading the body.
	Timeout time.Duration
	// TLS enables https (and HTTP/2 when the server offers it).
	TLS *tls.Config
}

// Conn is a lazily opened, keep-alive HTTP client bound to one endpoint.
// It is not safe for concurrent use; each Conn has exactly one owner.
type Conn struct {
	opts    Options
	network string
	addr    string

	state  State
	tr     *http.Transport
	client *http.Client
}

// New validates the address and returns a closed Conn.
func New(opts Options) (*Conn, error) {
	network, addr, err := ParseAddress(opts.Address)
	if err != nil {
		return nil, err
	}
	return &Conn{opts: opts, network: network, addr: addr}, nil
}

// ParseAddress splits an endpoint into a dial network and address. TCP
// endpoints must be host:port with a numeric port.
func ParseAddress(address string) (network, addr string, err error) {
	if strings.HasPrefix(address, unixPrefix) {
		path := strings.TrimPrefix(address, unixPrefix)
		if path == "" {
			return "", "", fmt.Errorf("address %q: empty socket path", address)
		}
		return "unix", path, nil
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", "", fmt.Errorf("address %q must have format host:port: %w", address, err)
	}
	if host == "" {
		return "", "", fmt.Errorf("address %q: empty host", address)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", "", fmt.Errorf("address %q: invalid port %q", address, port)
	}
	return "tcp", address, nil
}

// State reports whether the connection is currently open.
func (c *Conn) State() State {
	return c.state
}

// Endpoint returns the address for logs and error messages.
func (c *Conn) Endpoint() string {
	return c.opts.Address
}

// URL builds a request URL for path, which may carry a query string.
func (c *Conn) URL(path string) string {
	scheme := "http"
	if c.opts.TLS != nil {
		scheme = "https"
	}
	host := c.addr
	if c.network == "unix" {
		host = "localhost"
	}
	return scheme + "://" + host + path
}

// Open returns the HTTP client, creating it if the connection is closed.
// Calling Open on an open Conn is a no-op.
func (c *Conn) Open() (*http.Client, error) {
	if c.state == Open {
		return c.client, nil
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	network, addr := c.network, c.addr
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     c.opts.Timeout,
		TLSClientConfig:     c.opts.TLS,
	}
	if c.opts.TLS != nil {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("configuring http2 for %s: %w", c.opts.Address, err)
		}
	}

	c.tr = tr
	c.client = &http.Client{Transport: tr, Timeout: c.opts.Timeout}
	c.state = Open
	return c.client, nil
}

// Close drops the client and its pooled connections. The next Open starts
// from a fresh dial.
func (c *Conn) Close() {
	if c.tr != nil {
		c.tr.CloseIdleConnections()
	}
	c.tr = nil
	c.client = nil
	c.state = Closed
}

// IsReset reports whether err means the peer dropped the connection under
// us: a reset, a broken pipe, or EOF before a complete response.
func IsReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	// net/http does not always wrap the underlying cause.
	msg := err.Error()
	return strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}

// TraceConn returns a context that records whether a request made with it
// obtained a connection. An error before that is a dial or TLS handshake
// failure, never a dropped connection, even when it wraps io.EOF.
func TraceConn(ctx context.Context) (context.Context, func() bool) {
	var got atomic.Bool
	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { got.Store(true) },
	}
	return httptrace.WithClientTrace(ctx, trace), got.Load
}

// Reason extracts the reason phrase from a response status line.
func Reason(resp *http.Response) string {
	r := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	if r == "" || r == resp.Status {
		return http.StatusText(resp.StatusCode)
	}
	return r
}
