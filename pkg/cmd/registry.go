// Package cmd provides common initialization for the relay binaries.
package cmd

import (
	"log/slog"

	logaction "github.com/relaycrm/relay/pkg/actions/log"
	"github.com/relaycrm/relay/pkg/actions/webhook"
	"github.com/relaycrm/relay/pkg/registry"
)

// NewRegistry builds the action registry with the built-in actions.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(webhook.NewActionFactory())

	return reg
}
