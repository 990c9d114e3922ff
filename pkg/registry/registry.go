// Package registry maintains the action registration table: the mapping from
// dot-namespaced action names to factories satisfying the dispatch contract.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relaycrm/relay/pkg/protocol"
)

// ErrActionNotRegistered is returned when dispatch names an unknown action.
var ErrActionNotRegistered = errors.New("action not registered")

// ErrConfigInvalid is returned when a rendered config fails its schema.
var ErrConfigInvalid = errors.New("action config does not match schema")

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

// RegisterAction adds a factory under its own ID, replacing any previous
// registration for the same name.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory

	r.logger.Debug("Registered action", "action", factory.ID())
}

// CreateAction resolves a name to a factory, validates the rendered config
// against the factory schema and builds the action.
func (r *Registry) CreateAction(name string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[name]
	if !ok {
		return nil, fmt.Errorf("action %q: %w", name, ErrActionNotRegistered)
	}

	if schema := factory.Schema(); schema != nil {
		if err := validateConfig(schema, config); err != nil {
			return nil, fmt.Errorf("action %q: %w", name, err)
		}
	}

	return factory.Create(config)
}

// ActionIDs returns the registered action names, sorted.
func (r *Registry) ActionIDs() []string {
	ids := make([]string, 0, len(r.actionFactories))
	for id := range r.actionFactories {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func validateConfig(schema, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	configLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, configLoader)
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("%w: %s", ErrConfigInvalid, detail)
	}

	return nil
}
