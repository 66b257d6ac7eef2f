package registry

import (
	"github.com/mailflow/mailflow/pkg/nodes/action"
	"github.com/mailflow/mailflow/pkg/nodes/batchop"
	"github.com/mailflow/mailflow/pkg/nodes/condition"
	"github.com/mailflow/mailflow/pkg/nodes/delay"
	"github.com/mailflow/mailflow/pkg/nodes/emailfilter"
	"github.com/mailflow/mailflow/pkg/nodes/end"
	"github.com/mailflow/mailflow/pkg/nodes/notification"
	"github.com/mailflow/mailflow/pkg/nodes/ruleapply"
	"github.com/mailflow/mailflow/pkg/nodes/script"
	"github.com/mailflow/mailflow/pkg/nodes/start"
	"github.com/mailflow/mailflow/pkg/protocol"
)

// Collaborators are the external services some node types delegate to.
type Collaborators struct {
	EmailFilter protocol.EmailFilter
	Batches     protocol.BatchOperations
	Rules       protocol.RuleEngine
	Notifier    protocol.Notifier
	Actions     protocol.ActionDispatcher
}

// RegisterBuiltinNodes registers a factory for every node type the
// engine ships with.
func RegisterBuiltinNodes(registry *Registry, collaborators Collaborators) {
	registry.Register(start.NewFactory())
	registry.Register(end.NewFactory())
	registry.Register(condition.NewFactory())
	registry.Register(delay.NewFactory())
	registry.Register(script.NewFactory())
	registry.Register(emailfilter.NewFactory(collaborators.EmailFilter))
	registry.Register(batchop.NewFactory(collaborators.Batches))
	registry.Register(ruleapply.NewFactory(collaborators.Rules))
	registry.Register(notification.NewFactory(collaborators.Notifier))
	registry.Register(action.NewFactory(collaborators.Actions))
}
