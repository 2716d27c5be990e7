package trigger

import (
	"fmt"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/status"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field syntax plus descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses the cron expression of a schedule trigger.
//
//nolint:ireturn // cron.Schedule is the library's interface
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// ScheduleConfig is the data of a SCHEDULE_TRIGGER node.
type ScheduleConfig struct {
	CronExpression string `json:"cronExpression" validate:"required"`
	Timezone       string `json:"timezone"`
}

// Factory creates trigger executors. One factory exists per trigger type.
type Factory struct {
	nodeType    models.NodeType
	name        string
	description string
}

// NewManualFactory serves manual runs started from the editor or the API.
func NewManualFactory() *Factory {
	return &Factory{
		nodeType:    models.NodeTypeManualTrigger,
		name:        "Manual Trigger",
		description: "Starts the workflow when it is executed by hand or through the API",
	}
}

// NewInitialFactory serves the placeholder node of a freshly created workflow.
func NewInitialFactory() *Factory {
	return &Factory{
		nodeType:    models.NodeTypeInitial,
		name:        "Initial",
		description: "Placeholder entry point of a new workflow, behaves as a manual trigger",
	}
}

func NewScheduleFactory() *Factory {
	return &Factory{
		nodeType:    models.NodeTypeScheduleTrigger,
		name:        "Schedule Trigger",
		description: "Starts the workflow on a cron schedule",
	}
}

func NewGoogleFormFactory() *Factory {
	return &Factory{
		nodeType:    models.NodeTypeGoogleFormTrigger,
		name:        "Google Form Trigger",
		description: "Starts the workflow when a Google Form submission webhook arrives",
	}
}

func NewStripeFactory() *Factory {
	return &Factory{
		nodeType:    models.NodeTypeStripeTrigger,
		name:        "Stripe Trigger",
		description: "Starts the workflow when a Stripe event webhook arrives",
	}
}

// Factories returns one factory per trigger type.
func Factories() []*Factory {
	return []*Factory{
		NewInitialFactory(),
		NewManualFactory(),
		NewScheduleFactory(),
		NewGoogleFormFactory(),
		NewStripeFactory(),
	}
}

func (f *Factory) Type() models.NodeType { return f.nodeType }

func (f *Factory) Name() string { return f.name }

func (f *Factory) Description() string { return f.description }

func (f *Factory) Channel() string { return status.ChannelFor(f.nodeType) }

// Create returns the pass-through executor. Triggers need no dependencies.
func (f *Factory) Create(protocol.Dependencies) (protocol.NodeExecutor, error) {
	return NewExecutor(f.nodeType, f.Channel()), nil
}

// ValidateConfig checks the cron expression of schedule triggers.
func (f *Factory) ValidateConfig(nodeID string, data map[string]any) error {
	if f.nodeType != models.NodeTypeScheduleTrigger {
		return nil
	}

	var cfg ScheduleConfig
	if err := nodes.Decode(nodeID, data, &cfg); err != nil {
		return err
	}

	if _, err := ParseSchedule(cfg.CronExpression); err != nil {
		return protocol.WrapConfigurationError(nodeID, fmt.Sprintf("invalid cron expression %q", cfg.CronExpression), err)
	}

	return nil
}

// Schema returns the JSON schema of the trigger data.
func (f *Factory) Schema() map[string]any {
	switch f.nodeType {
	case models.NodeTypeScheduleTrigger:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cronExpression": map[string]any{
					"type":        "string",
					"description": "Cron expression defining when the workflow runs",
					"examples": []string{
						"0 9 * * MON-FRI", // Every weekday at 9 AM
						"*/15 * * * *",    // Every 15 minutes
						"@hourly",
					},
				},
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone the expression is evaluated in",
					"default":     "UTC",
					"examples":    []string{"UTC", "America/New_York", "Europe/London"},
				},
			},
			"required": []string{"cronExpression"},
		}
	default:
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
}

var (
	_ protocol.ExecutorFactory = (*Factory)(nil)
	_ protocol.ConfigValidator = (*Factory)(nil)
)
