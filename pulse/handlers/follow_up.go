package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/email"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/timer"
)

// FollowUp reminds the user to chase an application that has gone quiet.
// At most application.MaxFollowUps reminders are sent; each one schedules the next.
type FollowUp struct {
	deps   Deps
	logger *zap.SugaredLogger
}

func NewFollowUp(deps Deps) *FollowUp {
	deps = deps.withDefaults()
	return &FollowUp{deps: deps, logger: logger.AddPulseSymbol(deps.Logger.Named("follow-up"))}
}

func (h *FollowUp) Kind() timer.Kind { return timer.KindFollowUpReminder }

func (h *FollowUp) Handle(ctx context.Context, t *timer.Timer) error {
	log := h.logger.With(logger.FieldTimerID, t.ID, logger.FieldApplicationID, t.TargetID)

	app, err := h.deps.Applications.Get(ctx, t.TargetID)
	if errors.IsNotFoundError(err) {
		log.Infow("Application gone, skipping follow-up")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load application %s", t.TargetID)
	}
	if !app.Stage.AwaitingResponse() {
		log.Infow("Application no longer awaiting a response", logger.FieldStage, app.Stage)
		return nil
	}

	settings, err := h.deps.Applications.GetSettings(ctx, app.UserID)
	if err != nil {
		return errors.Wrapf(err, "failed to load settings for %s", app.UserID)
	}

	now := h.deps.Now()
	count, ok, err := h.deps.Applications.IncrementFollowUp(ctx, app.ID, now)
	if err != nil {
		return errors.Wrapf(err, "failed to record follow-up for %s", app.ID)
	}
	if !ok {
		log.Infow("Follow-up limit reached", logger.FieldCount, application.MaxFollowUps)
		return nil
	}

	notifyUser(ctx, h.deps.Notifier, log, app.UserID, notify.Notification{
		Type:    notify.TypeFollowUpReminder,
		Title:   "Follow-up Reminder",
		Message: fmt.Sprintf("Time to follow up on your application (Follow-up %d/%d)", count, application.MaxFollowUps),
		Data: map[string]interface{}{
			"application_id":  app.ID,
			"company":         app.Company,
			"position":        app.Position,
			"follow_up_count": count,
		},
	})

	if settings.WantsFollowUpEmail() && h.deps.Mailer != nil {
		msg := email.FollowUpReminder(settings.Email, app.Company, app.Position, count, application.MaxFollowUps)
		if err := h.deps.Mailer.Send(ctx, msg); err != nil {
			log.Warnw("Follow-up email not sent", logger.FieldError, err)
		}
	}

	if count >= application.MaxFollowUps {
		log.Infow("Final follow-up sent", logger.FieldCount, count)
		return nil
	}

	due := now.Add(settings.FollowUpInterval())
	nextID, err := h.deps.Scheduler.Schedule(ctx, timer.ScheduleRequest{
		UserID:   app.UserID,
		Kind:     timer.KindFollowUpReminder,
		TargetID: app.ID,
		DueAt:    due,
		Payload:  timer.FollowUpPayload{Round: count + 1},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to schedule follow-up %d for %s", count+1, app.ID)
	}
	log.Infow("Follow-up sent",
		logger.FieldCount, count,
		"next_timer_id", nextID,
		logger.FieldDueAt, due,
	)
	return nil
}
