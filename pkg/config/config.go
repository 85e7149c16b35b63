// Package config provides layered TOML configuration for nodeagent.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"nodeagent/internal/transport"
)

// FileName is the config file searched for in the standard locations.
const FileName = "nodeagent.toml"

// SystemPath is the global config location, also written by install.
const SystemPath = "/etc/" + FileName

const (
	defaultTimeout   = 60
	defaultLogLevel  = "info"
	defaultRPCSocket = "/run/nodeagent/agent.sock"
)

// File is the on-disk layout.
type File struct {
	Agent Agent `toml:"agent"`
}

// Agent is one configuration layer. A nil field is unset in this layer
// and falls through to lower layers.
type Agent struct {
	Docker      *string `toml:"docker"`
	Master      *string `toml:"master"`
	Timeout     *int    `toml:"timeout"`
	Secret      *string `toml:"secret"`
	LogLevel    *string `toml:"log_level"`
	MetricsAddr *string `toml:"metrics_addr"`
	RPCSocket   *string `toml:"rpc_socket"`
	MasterTLS   *bool   `toml:"master_tls"`
	MasterCA    *string `toml:"master_ca"`
	Advertise   *string `toml:"advertise"`
}

// Merge returns a copy of a with every field set in over taking precedence.
func (a Agent) Merge(over Agent) Agent {
	pick(&a.Docker, over.Docker)
	pick(&a.Master, over.Master)
	pick(&a.Timeout, over.Timeout)
	pick(&a.Secret, over.Secret)
	pick(&a.LogLevel, over.LogLevel)
	pick(&a.MetricsAddr, over.MetricsAddr)
	pick(&a.RPCSocket, over.RPCSocket)
	pick(&a.MasterTLS, over.MasterTLS)
	pick(&a.MasterCA, over.MasterCA)
	pick(&a.Advertise, over.Advertise)
	return a
}

func pick[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

// Settings is a fully resolved configuration.
type Settings struct {
	Docker      string
	Master      string
	Interval    time.Duration
	Secret      string
	LogLevel    string
	MetricsAddr string
	RPCSocket   string
	MasterTLS   bool
	MasterCA    string
	// Advertise is the engine host:port sent to the manager, required
	// when Docker is a unix socket.
	Advertise string
}

// TTL is advertised to the manager: two update intervals, so a single
// missed cycle does not expire the node.
func (s Settings) TTL() time.Duration {
	return 2 * s.Interval
}

// MissingFieldError reports a required setting that no layer provided.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// AddressError reports a malformed endpoint.
type AddressError struct {
	Field string
	Value string
	Err   error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// Resolve applies defaults and validates the merged layers.
func (a Agent) Resolve() (Settings, error) {
	s := Settings{
		Docker:      value(a.Docker, ""),
		Master:      value(a.Master, ""),
		Interval:    time.Duration(value(a.Timeout, defaultTimeout)) * time.Second,
		Secret:      value(a.Secret, ""),
		LogLevel:    value(a.LogLevel, defaultLogLevel),
		MetricsAddr: value(a.MetricsAddr, ""),
		RPCSocket:   ExpandPath(value(a.RPCSocket, defaultRPCSocket)),
		MasterTLS:   value(a.MasterTLS, false),
		MasterCA:    ExpandPath(value(a.MasterCA, "")),
		Advertise:   value(a.Advertise, ""),
	}

	if s.Docker == "" {
		return s, &MissingFieldError{Field: "docker"}
	}
	if s.Master == "" {
		return s, &MissingFieldError{Field: "master"}
	}
	network, _, err := transport.ParseAddress(s.Docker)
	if err != nil {
		return s, &AddressError{Field: "docker", Value: s.Docker, Err: err}
	}
	if s.Advertise != "" {
		if err := hostPort(s.Advertise); err != nil {
			return s, &AddressError{Field: "advertise", Value: s.Advertise, Err: err}
		}
	} else if network == "unix" {
		return s, &MissingFieldError{Field: "advertise"}
	}
	if err := hostPort(s.Master); err != nil {
		return s, &AddressError{Field: "master", Value: s.Master, Err: err}
	}
	if s.Interval < time.Second {
		return s, fmt.Errorf("timeout must be > 0, got %d", value(a.Timeout, 0))
	}
	return s, nil
}

// hostPort accepts TCP addresses only.
func hostPort(address string) error {
	network, _, err := transport.ParseAddress(address)
	if err != nil {
		return err
	}
	if network != "tcp" {
		return fmt.Errorf("address %q must have format host:port", address)
	}
	return nil
}

func value[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// TLSConfig returns the client TLS settings for the manager connection,
// or nil when master_tls is off.
func (s Settings) TLSConfig() (*tls.Config, error) {
	if !s.MasterTLS {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.MasterCA == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(s.MasterCA)
	if err != nil {
		return nil, fmt.Errorf("reading master_ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("master_ca %s: no certificates found", s.MasterCA)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// Environment variables read by FromEnv.
const (
	EnvDocker      = "NODEAGENT_DOCKER"
	EnvMaster      = "NODEAGENT_MASTER"
	EnvTimeout     = "NODEAGENT_TIMEOUT"
	EnvSecret      = "NODEAGENT_SECRET"
	EnvLogLevel    = "NODEAGENT_LOG_LEVEL"
	EnvMetricsAddr = "NODEAGENT_METRICS_ADDR"
	EnvRPCSocket   = "NODEAGENT_RPC_SOCKET"
	EnvMasterTLS   = "NODEAGENT_MASTER_TLS"
	EnvMasterCA    = "NODEAGENT_MASTER_CA"
	EnvAdvertise   = "NODEAGENT_ADVERTISE"
)

// FromEnv builds a layer from NODEAGENT_* variables. lookup is normally
// os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Agent, error) {
	var a Agent
	str := func(key string) *string {
		if v, ok := lookup(key); ok {
			return &v
		}
		return nil
	}
	a.Docker = str(EnvDocker)
	a.Master = str(EnvMaster)
	a.Secret = str(EnvSecret)
	a.LogLevel = str(EnvLogLevel)
	a.MetricsAddr = str(EnvMetricsAddr)
	a.RPCSocket = str(EnvRPCSocket)
	a.MasterCA = str(EnvMasterCA)
	a.Advertise = str(EnvAdvertise)

	if v := str(EnvTimeout); v != nil {
		n, err := strconv.Atoi(*v)
		if err != nil {
			return Agent{}, fmt.Errorf("%s: invalid timeout %q", EnvTimeout, *v)
		}
		a.Timeout = &n
	}
	if v := str(EnvMasterTLS); v != nil {
		b, err := strconv.ParseBool(*v)
		if err != nil {
			return Agent{}, fmt.Errorf("%s: invalid boolean %q", EnvMasterTLS, *v)
		}
		a.MasterTLS = &b
	}
	return a, nil
}

// SearchPaths lists the standard config locations, lowest priority first:
// /etc, then the user's config dir, then the working directory.
func SearchPaths() []string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = ExpandPath("~/.config")
	}
	paths := []string{SystemPath, filepath.Join(configHome, FileName)}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, FileName))
	}
	return paths
}

// Load reads and parses a single TOML config file.
func Load(path string) (Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Agent{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return Agent{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return f.Agent, nil
}

// LoadLayers merges the files in paths in order, later files winning.
// Missing files are skipped, except explicit, which must exist when set.
// It returns the merged layer and the files actually read.
func LoadLayers(paths []string, explicit string) (Agent, []string, error) {
	var merged Agent
	var read []string
	for _, p := range paths {
		layer, err := Load(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Agent{}, read, err
		}
		merged = merged.Merge(layer)
		read = append(read, p)
	}
	if explicit != "" {
		layer, err := Load(explicit)
		if err != nil {
			return Agent{}, read, err
		}
		merged = merged.Merge(layer)
		read = append(read, explicit)
	}
	return merged, read, nil
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

// SampleConfig is written by edit when no config exists.
const SampleConfig = `[agent]
  docker       = "127.0.0.1:2375"
  master       = "127.0.0.1:8762"
  timeout      = 10
  secret       = ""
  log_level    = "info"
  metrics_addr = ""
  rpc_socket   = "/run/nodeagent/agent.sock"
  master_tls   = false
  master_ca    = ""
  # engine host:port sent to the master, required when docker is unix:///path
  advertise    = ""
`

// CommentedSample is SampleConfig with every line commented out. install
// writes it so that a fresh system config changes nothing until edited.
func CommentedSample() string {
	lines := strings.Split(strings.TrimRight(SampleConfig, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "# " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// Layers merges every configuration layer above the defaults: the files in
// SearchPaths, explicit (if set), NODEAGENT_* environment variables and
// finally flags. It returns the config files that were read.
func Layers(explicit string, flags Agent) (Agent, []string, error) {
	files, read, err := LoadLayers(SearchPaths(), ExpandPath(explicit))
	if err != nil {
		return Agent{}, read, err
	}
	env, err := FromEnv(os.LookupEnv)
	if err != nil {
		return Agent{}, read, err
	}
	return files.Merge(env).Merge(flags), read, nil
}

// Discover resolves Layers into validated settings.
func Discover(explicit string, flags Agent) (Settings, []string, error) {
	a, read, err := Layers(explicit, flags)
	if err != nil {
		return Settings{}, read, err
	}
	s, err := a.Resolve()
	return s, read, err
}

// SocketPath is the status socket of this layer without requiring the
// rest of the configuration to be valid.
func (a Agent) SocketPath() string {
	return ExpandPath(value(a.RPCSocket, defaultRPCSocket))
}
