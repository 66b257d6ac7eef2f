package registry_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/nodes/noop"
	"github.com/mailflow/mailflow/pkg/registry"
)

func newBuiltinRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.NewRegistry(logger)
	registry.RegisterBuiltinNodes(reg, noop.Collaborators(logger))

	return reg
}

func TestRegistry_RegistersAllNodeTypes(t *testing.T) {
	reg := newBuiltinRegistry(t)

	types := reg.Types()
	assert.Len(t, types, len(models.NodeTypes))

	for _, nodeType := range models.NodeTypes {
		executor, err := reg.CreateExecutor(t.Context(), nodeType)
		require.NoError(t, err, "node type %s", nodeType)
		assert.Equal(t, nodeType, executor.Type())
	}
}

func TestRegistry_CreateExecutor_UnknownType(t *testing.T) {
	reg := newBuiltinRegistry(t)

	_, err := reg.CreateExecutor(t.Context(), models.NodeType("teleport"))
	assert.Error(t, err)
}

func TestRegistry_ValidateConfig(t *testing.T) {
	reg := newBuiltinRegistry(t)

	t.Run("valid condition config", func(t *testing.T) {
		err := reg.ValidateConfig(models.NodeTypeCondition, map[string]any{
			"condition": "{{ .variables.flag }}",
		})
		require.NoError(t, err)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := reg.ValidateConfig(models.NodeTypeCondition, map[string]any{})
		assert.Error(t, err)
	})

	t.Run("wrong field type", func(t *testing.T) {
		err := reg.ValidateConfig(models.NodeTypeDelay, map[string]any{
			"delay_ms": "soon",
		})
		assert.Error(t, err)
	})

	t.Run("enum violation", func(t *testing.T) {
		err := reg.ValidateConfig(models.NodeTypeBatchOperation, map[string]any{
			"operation_type": "explode",
		})
		assert.Error(t, err)
	})

	t.Run("start node accepts empty config", func(t *testing.T) {
		require.NoError(t, reg.ValidateConfig(models.NodeTypeStart, nil))
	})

	t.Run("unregistered type", func(t *testing.T) {
		err := reg.ValidateConfig(models.NodeType("teleport"), nil)
		assert.Error(t, err)
	})
}
