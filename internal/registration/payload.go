// Package registration assembles the node registration document and
// delivers it to the cluster manager.
package registration

import (
	"time"

	"nodeagent/internal/docker"
	"nodeagent/internal/sysinfo"
)

// TimeFormat is ISO-8601 with millisecond precision and zone offset.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Payload is the body of PUT /discovery/nodes/{id}.
type Payload struct {
	Time       string            `json:"time"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Address    string            `json:"address"`
	Containers []Container       `json:"containers"`
	Labels     map[string]string `json:"labels"`
	System     sysinfo.Status    `json:"system"`
}

// Container is one workload on the node.
type Container struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Image  string            `json:"image"`
	Labels map[string]string `json:"labels"`
}

// NewPayload builds a payload from engine data. The node ID is the engine's
// name, so two hosts with the same name collide on the manager.
func NewPayload(now time.Time, address string, info docker.Info, containers []docker.Container, status sysinfo.Status) *Payload {
	p := &Payload{
		Time:       now.Format(TimeFormat),
		ID:         info.Name,
		Name:       info.Name,
		Address:    address,
		Containers: make([]Container, 0, len(containers)),
		Labels:     info.LabelMap(),
		System:     status,
	}
	for _, c := range containers {
		labels := c.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		p.Containers = append(p.Containers, Container{
			ID:     c.ID,
			Name:   c.ShortName(),
			Image:  c.Image,
			Labels: labels,
		})
	}
	return p
}
