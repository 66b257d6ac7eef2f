// Package delay implements the blocking wait node.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// maxDelay caps a single delay node. Delay nodes occupy a worker slot
// for their whole duration, so long waits starve the pool.
const maxDelay = 15 * time.Minute

// Node suspends the traversal for the configured duration.
type Node struct{}

func (n *Node) Type() models.NodeType { return models.NodeTypeDelay }

func (n *Node) Execute(ctx context.Context, node *models.WorkflowNode, _ *models.ExecutionContext) (*models.NodeResult, error) {
	delayMs, ok := numericConfig(node.Config, "delay_ms")
	if !ok || delayMs < 0 {
		return nil, fmt.Errorf("delay node %s missing or invalid 'delay_ms'", node.ID)
	}

	duration := time.Duration(delayMs) * time.Millisecond
	if duration > maxDelay {
		return nil, fmt.Errorf("delay node %s exceeds maximum delay of %s", node.ID, maxDelay)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(duration):
	}

	return &models.NodeResult{
		Success: true,
		Output:  map[string]any{"delayed_ms": delayMs},
	}, nil
}

// numericConfig reads an int-valued config key; JSON decoding yields
// float64 so both are accepted.
func numericConfig(config map[string]any, key string) (int64, bool) {
	switch v := config[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

// Factory builds delay nodes.
type Factory struct{}

func NewFactory() protocol.NodeFactory { return &Factory{} }

func (f *Factory) Type() models.NodeType { return models.NodeTypeDelay }
func (f *Factory) Name() string          { return "Delay" }

func (f *Factory) Description() string {
	return "Suspends the traversal for a fixed duration. The wait blocks a worker slot."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"delay_ms": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "Milliseconds to wait before continuing.",
			},
		},
		"required": []any{"delay_ms"},
	}
}

func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return &Node{}, nil
}
