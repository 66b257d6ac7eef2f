package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType classifies what causes a new execution to be created.
type TriggerType string

const (
	TriggerTypeManual        TriggerType = "manual"
	TriggerTypeScheduled     TriggerType = "scheduled"
	TriggerTypeEvent         TriggerType = "event"
	TriggerTypeWebhook       TriggerType = "webhook"
	TriggerTypeRuleMatch     TriggerType = "rule_match"
	TriggerTypeEmailReceived TriggerType = "email_received"
)

// TriggerTypes lists every valid trigger type.
var TriggerTypes = []TriggerType{
	TriggerTypeManual,
	TriggerTypeScheduled,
	TriggerTypeEvent,
	TriggerTypeWebhook,
	TriggerTypeRuleMatch,
	TriggerTypeEmailReceived,
}

// IsValid reports whether t is a known trigger type.
func (t TriggerType) IsValid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}

	return false
}

// TriggerConfig is a tagged variant over the trigger types. Only the
// variant matching Type is consulted.
type TriggerConfig struct {
	Type      TriggerType             `json:"type" validate:"required"`
	Schedule  *ScheduleTriggerConfig  `json:"schedule,omitempty"`
	Event     *EventTriggerConfig     `json:"event,omitempty"`
	Webhook   *WebhookTriggerConfig   `json:"webhook,omitempty"`
	RuleMatch *RuleMatchTriggerConfig `json:"rule_match,omitempty"`
}

// ScheduleTriggerConfig carries the cron expression for scheduled
// workflows.
type ScheduleTriggerConfig struct {
	CronExpr string `json:"cron"     validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

// EventTriggerConfig names the domain event class armed for the workflow.
type EventTriggerConfig struct {
	EventType string         `json:"event_type" validate:"required"`
	Filter    map[string]any `json:"filter,omitempty"`
}

// WebhookTriggerConfig configures an inbound webhook trigger.
type WebhookTriggerConfig struct {
	Path   string `json:"path,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// RuleMatchTriggerConfig arms the workflow on rule-engine matches.
type RuleMatchTriggerConfig struct {
	RuleIDs []string `json:"rule_ids,omitempty"`
}

// Validate checks the variant matching the trigger type is present and
// well formed.
func (c TriggerConfig) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("unknown trigger type %q", c.Type)
	}

	switch c.Type {
	case TriggerTypeScheduled:
		if c.Schedule == nil {
			return errors.New("scheduled trigger requires a schedule configuration")
		}

		if c.Schedule.CronExpr == "" {
			return errors.New("scheduled trigger requires a cron expression")
		}

		if _, err := cron.ParseStandard(c.Schedule.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", c.Schedule.CronExpr, err)
		}

		if tz := c.Schedule.Timezone; tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", tz, err)
			}
		}
	case TriggerTypeEvent:
		if c.Event == nil || c.Event.EventType == "" {
			return errors.New("event trigger requires an event type")
		}
	case TriggerTypeManual, TriggerTypeWebhook, TriggerTypeRuleMatch, TriggerTypeEmailReceived:
	}

	return nil
}
