package cmd

import (
	"log/slog"

	"github.com/mailflow/mailflow/pkg/nodes/noop"
	"github.com/mailflow/mailflow/pkg/registry"
)

// NewRegistry builds the node registry with the built-in node types.
// Collaborator-backed nodes run against the no-op implementations until
// the mail, rules and notification services are wired in.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	registry.RegisterBuiltinNodes(reg, noop.Collaborators(logger))

	return reg
}
