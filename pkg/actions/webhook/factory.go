package webhook

import (
	"github.com/relaycrm/relay/pkg/protocol"
)

// ActionFactory creates webhook actions.
type ActionFactory struct{}

// NewActionFactory creates a new instance of ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "webhook"
}

// Create creates a new webhook action from the given configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

// Schema returns the JSON schema for configuring this action.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to deliver the webhook to. Supports templating.",
				"examples": []string{
					"https://hooks.example.com/crm",
					"https://tasks.example.com/boards/{{context.new.board_id}}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use",
				"default":     "POST",
				"enum":        []string{"POST", "PUT", "PATCH"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include. Values support templating.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Defaults to the JSON-encoded run context.",
				"examples": []string{
					`{"deal_id": "{{context.subject_id}}", "stage": "{{context.new.stage}}"}`,
				},
			},
			"retry": map[string]any{
				"type":        "object",
				"description": "Retry configuration for failed deliveries",
				"properties": map[string]any{
					"attempts": map[string]any{
						"type":    "integer",
						"minimum": 1,
						"maximum": 5,
					},
					"delay": map[string]any{
						"type":        "integer",
						"description": "Delay between attempts in milliseconds",
						"minimum":     0,
					},
				},
			},
		},
		"required": []string{"url"},
	}
}
