package docker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeagent/internal/transport"
)

const (
	infoBody       = `{"Name":"n1","ID":"00:11:aa","Labels":["env=prod","zone"],"ServerVersion":"24.0.7"}`
	containersBody = `[{"Id":"c1","Names":["/n1/app"],"Image":"img:1","Labels":{}},{"Id":"c2","Names":["/db"],"Image":"pg:16","Labels":{"tier":"data"}}]`
)

type fakeEngine struct {
	srv        *httptest.Server
	info       atomic.Int32
	containers atomic.Int32
	status     atomic.Int32
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	e := &fakeEngine{}
	e.status.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		e.info.Add(1)
		w.WriteHeader(int(e.status.Load()))
		w.Write([]byte(infoBody))
	})
	mux.HandleFunc("/containers/json", func(w http.ResponseWriter, r *http.Request) {
		e.containers.Add(1)
		if r.URL.Query().Get("all") != "1" {
			t.Errorf("containers query: got %q, want all=1", r.URL.RawQuery)
		}
		w.WriteHeader(int(e.status.Load()))
		w.Write([]byte(containersBody))
	})
	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *fakeEngine) addr() string {
	return e.srv.Listener.Addr().String()
}

func TestClient_InfoAndContainers(t *testing.T) {
	engine := newFakeEngine(t)
	c, err := New(engine.addr(), zerolog.Nop())
	require.NoError(t, err)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "n1", info.Name)
	assert.Equal(t, "24.0.7", info.ServerVersion)
	assert.Equal(t, map[string]string{"env": "prod", "zone": ""}, info.LabelMap())

	containers, err := c.Containers(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, "app", containers[0].ShortName())
	assert.Equal(t, "db", containers[1].ShortName())
	assert.Equal(t, "data", containers[1].Labels["tier"])
}

func TestClient_CachesResponses(t *testing.T) {
	engine := newFakeEngine(t)
	now := time.Unix(1000, 0)
	c, err := New(engine.addr(), zerolog.Nop(),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Info(context.Background())
		require.NoError(t, err)
		_, err = c.Containers(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, engine.info.Load())
	assert.EqualValues(t, 1, engine.containers.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Info(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, engine.info.Load())
}

func TestClient_CallersGetOwnCopy(t *testing.T) {
	engine := newFakeEngine(t)
	c, err := New(engine.addr(), zerolog.Nop())
	require.NoError(t, err)

	first, err := c.Containers(context.Background())
	require.NoError(t, err)
	first[1].Labels["tier"] = "mutated"
	first[0].Names[0] = "/other"

	second, err := c.Containers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data", second[1].Labels["tier"])
	assert.Equal(t, "/n1/app", second[0].Names[0])
}

func TestClient_ID(t *testing.T) {
	engine := newFakeEngine(t)
	c, err := New(engine.addr(), zerolog.Nop(), WithCacheTTL(0))
	require.NoError(t, err)

	id, err := c.ID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0011aa", id)

	_, err = c.ID(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, engine.info.Load(), "ID must be memoized")
}

func TestClient_StatusError(t *testing.T) {
	engine := newFakeEngine(t)
	engine.status.Store(http.StatusInternalServerError)
	c, err := New(engine.addr(), zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Info(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se), "want StatusError, got %v", err)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "Internal Server Error", se.Reason)
	assert.Equal(t, "/info", se.Path)
	assert.Equal(t, engine.addr(), se.Endpoint)

	engine.status.Store(http.StatusOK)
	_, err = c.Info(context.Background())
	assert.NoError(t, err, "a failed response must not be cached")
}

func TestClient_TransportErrorClosesConn(t *testing.T) {
	engine := newFakeEngine(t)
	c, err := New(engine.addr(), zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.Open, c.conn.State())

	engine.srv.Close()
	_, err = c.Containers(context.Background())
	var re *RequestError
	require.True(t, errors.As(err, &re), "want RequestError, got %v", err)
	assert.Equal(t, "GET", re.Method)
	assert.Equal(t, containersPath, re.Path)
	assert.Equal(t, transport.Closed, c.conn.State())
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New("no-port", zerolog.Nop())
	assert.Error(t, err)
}

func TestContainer_ShortName(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"/hostA/myApp"}, "myApp"},
		{[]string{"/myApp"}, "myApp"},
		{[]string{"plain"}, "plain"},
		{nil, "abc123"},
	}
	for _, tt := range tests {
		c := Container{ID: "abc123", Names: tt.names}
		assert.Equal(t, tt.want, c.ShortName(), "names %v", tt.names)
	}
}
