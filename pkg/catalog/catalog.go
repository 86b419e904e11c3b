// Package catalog loads workflow systems that can be executed by name.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

//go:embed systems.yaml
var defaultSystems []byte

// Node is one step of a system.
type Node struct {
	ID          workflow.NodeID   `yaml:"id" json:"id"`
	Label       string            `yaml:"label" json:"label"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Type        workflow.NodeType `yaml:"type" json:"type"`
}

// Connection is a directed edge between two nodes of a system.
type Connection struct {
	From workflow.NodeID `yaml:"from" json:"from"`
	To   workflow.NodeID `yaml:"to" json:"to"`
}

// System is a named workflow graph.
type System struct {
	ID          string       `yaml:"id" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Category    string       `yaml:"category,omitempty" json:"category,omitempty"`
	Nodes       []Node       `yaml:"nodes" json:"nodes"`
	Connections []Connection `yaml:"connections" json:"connections"`
}

// NodeIDs returns the node ids in declaration order.
func (s *System) NodeIDs() []workflow.NodeID {
	out := make([]workflow.NodeID, len(s.Nodes))
	for i, n := range s.Nodes {
		out[i] = n.ID
	}
	return out
}

// NodeTypes returns the node type of every node that declares one.
func (s *System) NodeTypes() map[workflow.NodeID]workflow.NodeType {
	out := make(map[workflow.NodeID]workflow.NodeType, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Type != "" {
			out[n.ID] = n.Type
		}
	}
	return out
}

// WorkflowConnections returns the edges in workflow form.
func (s *System) WorkflowConnections() []workflow.Connection {
	out := make([]workflow.Connection, len(s.Connections))
	for i, c := range s.Connections {
		out[i] = workflow.Connection{From: c.From, To: c.To}
	}
	return out
}

// Node returns the node with the given id.
func (s *System) Node(id workflow.NodeID) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Validate checks that node ids are unique, node types are known and every
// connection endpoint names a node of the system.
func (s *System) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: system without id", sdkerrors.ErrInvalidConfig)
	}
	seen := make(map[workflow.NodeID]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: system %s: node without id", sdkerrors.ErrInvalidConfig, s.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: system %s: duplicate node %s", sdkerrors.ErrInvalidConfig, s.ID, n.ID)
		}
		seen[n.ID] = true
		if n.Type != "" && !n.Type.Valid() {
			return fmt.Errorf("%w: system %s: node %s has unknown type %q", sdkerrors.ErrInvalidConfig, s.ID, n.ID, n.Type)
		}
	}
	for _, c := range s.Connections {
		if !seen[c.From] || !seen[c.To] {
			return fmt.Errorf("%w: system %s: connection %s -> %s references an unknown node", sdkerrors.ErrInvalidConfig, s.ID, c.From, c.To)
		}
	}
	return nil
}

// Catalog is a set of systems keyed by id.
type Catalog struct {
	systems map[string]*System
	order   []string
}

type document struct {
	Systems []System `yaml:"systems"`
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{systems: make(map[string]*System, len(doc.Systems))}
	for i := range doc.Systems {
		sys := &doc.Systems[i]
		if err := sys.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.systems[sys.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate system %s", sdkerrors.ErrInvalidConfig, sys.ID)
		}
		c.systems[sys.ID] = sys
		c.order = append(c.order, sys.ID)
	}
	return c, nil
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in demo catalog.
func Default() *Catalog {
	c, err := Parse(defaultSystems)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded systems are invalid: %v", err))
	}
	return c
}

// Get returns the system with the given id.
func (c *Catalog) Get(id string) (*System, error) {
	sys, ok := c.systems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sdkerrors.ErrUnknownSystem, id)
	}
	return sys, nil
}

// Systems returns all systems in file order.
func (c *Catalog) Systems() []*System {
	out := make([]*System, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.systems[id])
	}
	return out
}

// IDs returns the sorted system ids.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}
