// Package registry holds the node executor factories and validates node
// configurations against their declared JSON schemas.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger    *slog.Logger
	factories map[models.NodeType]protocol.NodeFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[models.NodeType]protocol.NodeFactory),
	}
}

// Register adds a node factory; the last registration for a type wins.
func (r *Registry) Register(factory protocol.NodeFactory) {
	r.factories[factory.Type()] = factory
}

// Types returns the registered node types.
func (r *Registry) Types() []models.NodeType {
	types := make([]models.NodeType, 0, len(r.factories))
	for nodeType := range r.factories {
		types = append(types, nodeType)
	}

	return types
}

// CreateExecutor builds the executor for a node type.
func (r *Registry) CreateExecutor(ctx context.Context, nodeType models.NodeType) (protocol.NodeExecutor, error) {
	factory, ok := r.factories[nodeType]
	if !ok {
		return nil, fmt.Errorf("node type %q not registered", nodeType)
	}

	return factory.Create(ctx)
}

// ValidateConfig checks a node's config against the schema its factory
// declares. Runs at node construction/save time, not at execution time.
func (r *Registry) ValidateConfig(nodeType models.NodeType, config map[string]any) error {
	factory, ok := r.factories[nodeType]
	if !ok {
		return fmt.Errorf("node type %q not registered", nodeType)
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate %q node config: %w", nodeType, err)
	}

	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("invalid %q node config: %s", nodeType, detail)
	}

	return nil
}
