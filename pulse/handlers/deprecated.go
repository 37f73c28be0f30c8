package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/pulse/timer"
)

// Deprecated drains timers of retired kinds. It never touches storage.
type Deprecated struct {
	kind   timer.Kind
	logger *zap.SugaredLogger
}

func NewDeprecated(kind timer.Kind, log *zap.SugaredLogger) *Deprecated {
	if log == nil {
		log = logger.Logger
	}
	return &Deprecated{kind: kind, logger: logger.AddPulseSymbol(log.Named("deprecated"))}
}

func (h *Deprecated) Kind() timer.Kind { return h.kind }

func (h *Deprecated) Handle(_ context.Context, t *timer.Timer) error {
	h.logger.Infow("Ignoring deprecated timer",
		logger.FieldTimerID, t.ID,
		logger.FieldKind, t.Kind,
		"target_id", t.TargetID,
	)
	return nil
}
