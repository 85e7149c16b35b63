// Package rpc provides Unix socket IPC between the running agent and the
// `nodeagent status` command.
package rpc

import (
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"

	"nodeagent/internal/agent"
)

// StatusSource is read by the RPC service.
type StatusSource interface {
	Snapshot() agent.Status
	Fresh(now time.Time, ttl time.Duration) bool
}

// Service is the RPC service exposed by the agent.
type Service struct {
	status StatusSource
	node   NodeInfo
	ttl    time.Duration
	log    zerolog.Logger
}

// NodeInfo is the static part of a status reply.
type NodeInfo struct {
	Docker string
	Master string
	Name   string
}

// StatusArgs is the request for Status. gob refuses field-less structs.
type StatusArgs struct {
	Caller string
}

// StatusReply is the response for Status.
type StatusReply struct {
	Node   NodeInfo
	TTL    time.Duration
	Fresh  bool
	Status agent.Status
}

// Status returns the registration history of this node.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	s.log.Debug().Str("caller", args.Caller).Msg("Status requested")
	reply.Node = s.node
	reply.TTL = s.ttl
	reply.Fresh = s.status.Fresh(time.Now(), s.ttl)
	reply.Status = s.status.Snapshot()
	return nil
}

// StartServer starts the Unix socket RPC server. Closing the returned
// listener stops it.
func StartServer(socketPath string, status StatusSource, node NodeInfo, ttl time.Duration, log zerolog.Logger) (net.Listener, error) {
	service := &Service{status: status, node: node, ttl: ttl, log: log}

	server := netrpc.NewServer()
	if err := server.Register(service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove a stale socket left by a previous run
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				log.Debug().Err(err).Msg("RPC listener closed")
				return
			}
			go server.ServeConn(conn)
		}
	}()

	return listener, nil
}

// Client is a client for the agent RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Status fetches the agent's registration status.
func (c *Client) Status() (*StatusReply, error) {
	reply := &StatusReply{}
	if err := c.client.Call("Service.Status", &StatusArgs{Caller: callerName()}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func callerName() string {
	name, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("pid-%d", os.Getpid())
	}
	return fmt.Sprintf("%s/pid-%d", name, os.Getpid())
}
