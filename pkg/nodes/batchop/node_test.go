package batchop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailflow/mailflow/pkg/models"
	"github.com/mailflow/mailflow/pkg/protocol"
)

type stubBatches struct {
	lastItems []string
	lastType  string
	err       error
}

func (s *stubBatches) CreateBatchOperation(_ context.Context, _, _, operationType string, targetItems []string, _ map[string]any) (*protocol.BatchOperation, error) {
	s.lastType = operationType
	s.lastItems = targetItems

	if s.err != nil {
		return nil, s.err
	}

	return &protocol.BatchOperation{ID: "batch-1", Status: "queued"}, nil
}

func TestBatchOperation_ExplicitTargets(t *testing.T) {
	batches := &stubBatches{}
	node := &models.WorkflowNode{
		ID:   "batch-1",
		Name: "Archive old",
		Config: map[string]any{
			"operation_type": "archive",
			"target_items":   []any{"email-1", "email-2"},
		},
	}

	result, err := (&Node{batches: batches}).Execute(t.Context(), node, &models.ExecutionContext{
		UserID:    "user-1",
		Variables: map[string]any{},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "archive", batches.lastType)
	assert.Equal(t, []string{"email-1", "email-2"}, batches.lastItems)
	assert.Equal(t, "batch-1", result.Output["batch_operation_id"])
	assert.Equal(t, 2, result.Output["target_count"])
}

func TestBatchOperation_FallsBackToFilteredEmails(t *testing.T) {
	batches := &stubBatches{}
	node := &models.WorkflowNode{
		ID:     "batch-1",
		Config: map[string]any{"operation_type": "mark_read"},
	}

	_, err := (&Node{batches: batches}).Execute(t.Context(), node, &models.ExecutionContext{
		UserID:    "user-1",
		Variables: map[string]any{"email_ids": []any{"email-9"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"email-9"}, batches.lastItems)
}

func TestBatchOperation_DelegateFailureIsUnsuccessfulResult(t *testing.T) {
	batches := &stubBatches{err: errors.New("provider quota exceeded")}
	node := &models.WorkflowNode{
		ID:     "batch-1",
		Config: map[string]any{"operation_type": "delete"},
	}

	result, err := (&Node{batches: batches}).Execute(t.Context(), node, &models.ExecutionContext{
		UserID:    "user-1",
		Variables: map[string]any{},
	})

	// Failure routes through the graph, it does not abort the run.
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "quota")
}

func TestBatchOperation_MissingOperationType(t *testing.T) {
	node := &models.WorkflowNode{ID: "batch-1", Config: map[string]any{}}

	_, err := (&Node{batches: &stubBatches{}}).Execute(t.Context(), node, &models.ExecutionContext{})
	assert.Error(t, err)
}
