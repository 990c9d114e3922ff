// Package protocol defines the pluggable boundaries between the workflow
// engine and its collaborators. The engine owns none of the concrete actions;
// it only requires this contract of anything registered under a name.
package protocol

import (
	"context"
	"log/slog"
)

// Action performs one external side effect from an already-rendered config.
// The run context is passed read-only for actions that want to inspect the
// triggering event. Errors are terminal for the owning run; retry, if any,
// is the action's own concern.
type Action interface {
	Execute(ctx context.Context, runContext map[string]any, logger *slog.Logger) (any, error)
}

// ActionFactory builds actions for one dot-namespaced name (e.g.
// "email.send"). Schema may return a JSON schema for the action config;
// the registry validates rendered configs against it before Create.
type ActionFactory interface {
	ID() string
	Create(config map[string]any) (Action, error)
	Schema() map[string]any
}
