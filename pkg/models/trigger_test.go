package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerConfig_Validate(t *testing.T) {
	t.Run("valid scheduled trigger", func(t *testing.T) {
		config := TriggerConfig{
			Type:     TriggerTypeScheduled,
			Schedule: &ScheduleTriggerConfig{CronExpr: "0 9 * * 1-5"},
		}
		require.NoError(t, config.Validate())
	})

	t.Run("scheduled trigger without schedule", func(t *testing.T) {
		config := TriggerConfig{Type: TriggerTypeScheduled}
		assert.Error(t, config.Validate())
	})

	t.Run("scheduled trigger with bad cron expression", func(t *testing.T) {
		config := TriggerConfig{
			Type:     TriggerTypeScheduled,
			Schedule: &ScheduleTriggerConfig{CronExpr: "not a cron"},
		}
		assert.Error(t, config.Validate())
	})

	t.Run("scheduled trigger with timezone", func(t *testing.T) {
		config := TriggerConfig{
			Type: TriggerTypeScheduled,
			Schedule: &ScheduleTriggerConfig{
				CronExpr: "0 9 * * 1-5",
				Timezone: "Europe/Lisbon",
			},
		}
		require.NoError(t, config.Validate())
	})

	t.Run("scheduled trigger with unknown timezone", func(t *testing.T) {
		config := TriggerConfig{
			Type: TriggerTypeScheduled,
			Schedule: &ScheduleTriggerConfig{
				CronExpr: "0 9 * * 1-5",
				Timezone: "Mars/Olympus_Mons",
			},
		}
		assert.Error(t, config.Validate())
	})

	t.Run("unknown trigger type", func(t *testing.T) {
		config := TriggerConfig{Type: TriggerType("carrier_pigeon")}
		assert.Error(t, config.Validate())
	})

	t.Run("manual trigger needs nothing else", func(t *testing.T) {
		config := TriggerConfig{Type: TriggerTypeManual}
		require.NoError(t, config.Validate())
	})

	t.Run("event trigger requires event type", func(t *testing.T) {
		config := TriggerConfig{Type: TriggerTypeEvent}
		assert.Error(t, config.Validate())

		config.Event = &EventTriggerConfig{EventType: "email.received"}
		require.NoError(t, config.Validate())
	})
}

func TestConnectionCondition(t *testing.T) {
	assert.True(t, ConditionAlways.IsValid())
	assert.True(t, ConditionSuccess.IsValid())
	assert.True(t, ConditionFailure.IsValid())
	assert.True(t, ConnectionCondition("expr:{{ .variables.ok }}").IsValid())
	assert.False(t, ConnectionCondition("sucess").IsValid())
	assert.False(t, ConnectionCondition("always").IsValid())

	expr := ConnectionCondition("expr:{{ gt .variables.count 3 }}")
	assert.True(t, expr.IsExpression())
	assert.Equal(t, "{{ gt .variables.count 3 }}", expr.Expression())
}
