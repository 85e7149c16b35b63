package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nodeagent/internal/transport"
	"nodeagent/internal/ttlcache"
)

const (
	infoPath       = "/info"
	containersPath = "/containers/json?all=1"

	// DefaultCacheTTL is how long info and the container list are reused.
	// Membership changes do not need sub-minute precision for registration.
	DefaultCacheTTL = 10 * time.Minute

	defaultTimeout = 30 * time.Second
)

// Client queries the engine API over one keep-alive connection. Responses
// are cached as raw bytes and decoded on every access, so callers always get
// their own copy.
type Client struct {
	conn *transport.Conn
	log  zerolog.Logger

	// mu guards conn; the caches serialise their own loads.
	mu         sync.Mutex
	info       *ttlcache.Cache[[]byte]
	containers *ttlcache.Cache[[]byte]

	idMu sync.Mutex
	id   string
}

// Option configures a Client.
type Option func(*options)

type options struct {
	cacheTTL time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) { o.cacheTTL = d }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock replaces time.Now in the caches.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a client for address (host:port or unix:///path).
func New(address string, log zerolog.Logger, opts ...Option) (*Client, error) {
	o := options{cacheTTL: DefaultCacheTTL, timeout: defaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := transport.New(transport.Options{Address: address, Timeout: o.timeout})
	if err != nil {
		return nil, fmt.Errorf("docker address: %w", err)
	}

	c := &Client{
		conn: conn,
		log:  log.With().Str("docker", address).Logger(),
	}
	c.info = ttlcache.New(func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, http.MethodGet, infoPath)
	}, o.cacheTTL, ttlcache.WithClock[[]byte](o.now))
	c.containers = ttlcache.New(func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, http.MethodGet, containersPath)
	}, o.cacheTTL, ttlcache.WithClock[[]byte](o.now))
	return c, nil
}

// Address is the engine endpoint the client was created with.
func (c *Client) Address() string {
	return c.conn.Endpoint()
}

// Info returns the engine's static info.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	data, err := c.info.Get(ctx)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("decoding %s: %w", infoPath, err)
	}
	return info, nil
}

// Containers returns all containers known to the engine, running or not.
func (c *Client) Containers(ctx context.Context) ([]Container, error) {
	data, err := c.containers.Get(ctx)
	if err != nil {
		return nil, err
	}
	var containers []Container
	if err := json.Unmarshal(data, &containers); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", containersPath, err)
	}
	return containers, nil
}

// ID returns the engine ID with colons stripped. The first successful
// lookup is kept for the life of the client.
func (c *Client) ID(ctx context.Context) (string, error) {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	if c.id != "" {
		return c.id, nil
	}
	info, err := c.Info(ctx)
	if err != nil {
		return "", err
	}
	c.id = strings.ReplaceAll(info.ID, ":", "")
	return c.id, nil
}

func (c *Client) send(ctx context.Context, method, path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fail := func(err error) error {
		c.conn.Close()
		c.log.Error().
			Err(err).
			Str("method", method).
			Str("path", path).
			Msg("Cannot query docker")
		return &RequestError{Method: method, Path: path, Endpoint: c.conn.Endpoint(), Err: err}
	}

	client, err := c.conn.Open()
	if err != nil {
		return nil, fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.conn.URL(path), nil)
	if err != nil {
		return nil, fail(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:   method,
			Path:     path,
			Endpoint: c.conn.Endpoint(),
			Code:     resp.StatusCode,
			Reason:   transport.Reason(resp),
		}
	}

	c.log.Debug().Str("path", path).Int("bytes", len(body)).Msg("Docker response")
	return body, nil
}
