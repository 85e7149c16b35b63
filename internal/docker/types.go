// Package docker is a minimal client for the local container engine API,
// limited to the calls the agent needs for registration.
package docker

import "strings"

// Info is the subset of GET /info the agent uses.
type Info struct {
	ID              string   `json:"ID"`
	Name            string   `json:"Name"`
	Labels          []string `json:"Labels"`
	ServerVersion   string   `json:"ServerVersion"`
	OperatingSystem string   `json:"OperatingSystem"`
	KernelVersion   string   `json:"KernelVersion"`
}

// LabelMap turns the engine's "key=value" labels into a map. A label without
// '=' maps to an empty value; the last duplicate key wins.
func (i Info) LabelMap() map[string]string {
	labels := make(map[string]string, len(i.Labels))
	for _, l := range i.Labels {
		k, v, _ := strings.Cut(l, "=")
		labels[k] = v
	}
	return labels
}

// Container is one entry of GET /containers/json.
type Container struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	Image  string            `json:"Image"`
	Labels map[string]string `json:"Labels"`
}

// ShortName returns the last segment of the first name. Names look like
// /name or /node/name. A container with no names falls back to its ID.
func (c Container) ShortName() string {
	if len(c.Names) == 0 {
		return c.ID
	}
	name := c.Names[0]
	return name[strings.LastIndex(name, "/")+1:]
}
