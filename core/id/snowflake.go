package id

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator issues time-ordered int64 ids that are unique across nodes.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator returns a generator for node, which must be within 0..1023.
func NewGenerator(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &Generator{node: n}, nil
}

// NextID returns a new id.
func (g *Generator) NextID() int64 {
	return g.node.Generate().Int64()
}
