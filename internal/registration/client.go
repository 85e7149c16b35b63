package registration

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"nodeagent/internal/docker"
	"nodeagent/internal/sysinfo"
	"nodeagent/internal/transport"
)

const (
	// MaxAttempts bounds delivery attempts within one cycle.
	MaxAttempts = 3

	// AuthHeader carries the shared secret.
	AuthHeader = "X-Auth-Node"

	// readTimeoutFactor stretches the connection timeout well past the TTL:
	// the manager may keep the connection across many heartbeats.
	readTimeoutFactor = 20
)

// Source provides the engine data for a payload.
type Source interface {
	Info(ctx context.Context) (docker.Info, error)
	Containers(ctx context.Context) ([]docker.Container, error)
	Address() string
}

// StatusCollector provides the resource snapshot for a payload.
type StatusCollector interface {
	Collect(ctx context.Context) sysinfo.Status
}

// Observer is told about every attempt and every finished cycle.
type Observer interface {
	ObserveAttempt(result string)
	ObserveCycle(o Outcome)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string) {}
func (nopObserver) ObserveCycle(Outcome)  {}

// Config holds the manager endpoint settings.
type Config struct {
	// Master is the manager's host:port.
	Master string
	// TTL is advertised to the manager; the node is considered dead if it
	// does not re-register within it.
	TTL time.Duration
	// Secret is sent in AuthHeader when not empty.
	Secret string
	// TLS switches the manager connection to https.
	TLS *tls.Config
	// Advertise is the engine address sent to the manager. When empty the
	// source address is used, which must then be host:port.
	Advertise string
}

// Outcome is the result of one registration cycle.
type Outcome struct {
	Started  time.Time
	Duration time.Duration
	// Attempts is the number of sends made; zero when the payload could
	// not be assembled.
	Attempts int
	Err      error
}

// OK reports whether the manager accepted the registration.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Client registers this node with the manager.
type Client struct {
	conn     *transport.Conn
	address  string
	ttl      time.Duration
	secret   string
	source   Source
	probe    StatusCollector
	observer Observer
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithObserver reports attempts and cycles to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithClock replaces time.Now for payload timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New validates cfg and returns a client with a closed connection.
func New(cfg Config, source Source, probe StatusCollector, log zerolog.Logger, opts ...Option) (*Client, error) {
	if cfg.TTL < time.Second {
		return nil, fmt.Errorf("ttl must be at least 1s, got %s", cfg.TTL)
	}
	conn, err := transport.New(transport.Options{
		Address: cfg.Master,
		Timeout: cfg.TTL * readTimeoutFactor,
		TLS:     cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("master address: %w", err)
	}
	address, err := advertised(cfg.Advertise, source.Address())
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:     conn,
		address:  address,
		ttl:      cfg.TTL,
		secret:   cfg.Secret,
		source:   source,
		probe:    probe,
		observer: nopObserver{},
		now:      time.Now,
		log:      log.With().Str("master", cfg.Master).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// advertised picks the address the manager can dial the engine on.
func advertised(advertise, source string) (string, error) {
	field, address := "advertise", advertise
	if address == "" {
		field, address = "docker", source
	}
	network, _, err := transport.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("%s address: %w", field, err)
	}
	if network != "tcp" {
		return "", fmt.Errorf("%s address %q is not reachable by the master, set an advertise host:port", field, address)
	}
	return address, nil
}

// Open opens the manager connection if it is closed.
func (c *Client) Open() error {
	_, err := c.conn.Open()
	return err
}

// Payload assembles a fresh registration document.
func (c *Client) Payload(ctx context.Context) (*Payload, error) {
	info, err := c.source.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching docker info: %w", err)
	}
	containers, err := c.source.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching containers: %w", err)
	}
	status := c.probe.Collect(ctx)
	return NewPayload(c.now(), c.address, info, containers, status), nil
}

// Update runs one registration cycle. It never fails: every error is logged
// and returned inside the Outcome so the caller's schedule is unaffected.
func (c *Client) Update(ctx context.Context) Outcome {
	out := Outcome{Started: c.now()}
	out.Err = c.update(ctx, &out)
	out.Duration = c.now().Sub(out.Started)
	c.observer.ObserveCycle(out)
	return out
}

func (c *Client) update(ctx context.Context, out *Outcome) error {
	payload, err := c.Payload(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Cannot update registration")
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Msg("Cannot encode registration payload")
		return fmt.Errorf("marshaling payload: %w", err)
	}

	path := "/discovery/nodes/" + url.PathEscape(payload.ID) + "?ttl=" + strconv.Itoa(int(c.ttl/time.Second))
	c.log.Debug().Str("path", path).RawJSON("payload", body).Msg("Do registration")

	var sendErr *SendError
	for out.Attempts < MaxAttempts {
		out.Attempts++
		sendErr = c.send(ctx, path, body)
		if sendErr == nil {
			c.observer.ObserveAttempt("success")
			c.log.Debug().Int("attempt", out.Attempts).Msg("Update registration success")
			return nil
		}
		c.observer.ObserveAttempt(sendErr.Kind.String())
		if !sendErr.Kind.Retryable() || ctx.Err() != nil {
			break
		}
		c.log.Debug().
			Err(sendErr).
			Int("attempt", out.Attempts).
			Msg("Connection dropped by master, retrying")
	}

	c.log.Error().
		Err(sendErr).
		Str("kind", sendErr.Kind.String()).
		Str("method", sendErr.Method).
		Str("url", sendErr.URL).
		Int("attempts", out.Attempts).
		RawJSON("payload", body).
		Msg("Cannot update registration")
	return sendErr
}

// send makes one PUT. Any failure closes the connection so the next attempt
// dials again.
func (c *Client) send(ctx context.Context, path string, body []byte) *SendError {
	target := c.conn.URL(path)
	fail := func(se *SendError) *SendError {
		se.Method = http.MethodPut
		se.URL = target
		c.conn.Close()
		return se
	}
	ctx, connected := transport.TraceConn(ctx)
	classify := func(err error) *SendError {
		kind := FailureTransport
		if connected() && transport.IsReset(err) {
			kind = FailureReset
		}
		return fail(&SendError{Kind: kind, Err: err})
	}

	client, err := c.conn.Open()
	if err != nil {
		return fail(&SendError{Kind: FailureTransport, Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return fail(&SendError{Kind: FailureTransport, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(AuthHeader, c.secret)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	// Drain before looking at the status so the connection can be reused.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return fail(&SendError{
			Kind:   FailureUnauthorized,
			Status: resp.StatusCode,
			Reason: transport.Reason(resp),
			Body:   string(data),
		})
	default:
		return fail(&SendError{
			Kind:   FailureInvalidResponse,
			Status: resp.StatusCode,
			Reason: transport.Reason(resp),
			Body:   string(data),
		})
	}
}
