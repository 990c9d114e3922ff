package cmd

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/relaycrm/relay/pkg/channels/gochannel"
	"github.com/relaycrm/relay/pkg/eventbus"
)

// NewEventBus creates the in-process event bus carrying run lifecycle events.
func NewEventBus(logger *slog.Logger) eventbus.EventBus {
	pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(logger))

	return eventbus.NewWatermillEventBus(pub, sub)
}
