// Package log provides an action that writes a templated message to the
// engine's structured log. Useful as a terminal step and in development.
package log

import (
	"context"
	"log/slog"
)

type Action struct {
	Message string
	Level   string
}

func NewAction(config map[string]any) *Action {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Action{Message: message, Level: level}
}

func (a *Action) Execute(ctx context.Context, runContext map[string]any, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "log")

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, a.Message)
	case "warn", "warning":
		logger.WarnContext(ctx, a.Message)
	case "error":
		logger.ErrorContext(ctx, a.Message)
	default:
		logger.InfoContext(ctx, a.Message)
	}

	return map[string]any{"message": a.Message, "level": a.Level}, nil
}
