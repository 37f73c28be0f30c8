package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/workflow"
)

func autoApplyTimer(appID string) *timer.Timer {
	return &timer.Timer{
		ID:       "timer-" + appID,
		UserID:   "user-1",
		Kind:     timer.KindAutoApplyDelay,
		TargetID: appID,
		Payload:  timer.AutoApplyPayload{JobID: "job-1"},
	}
}

func TestAutoApply_StartsGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApp(t, application.StageBeingApplied)
	run, err := f.runs.Create(ctx, app.ID, app.UserID)
	require.NoError(t, err)

	require.NoError(t, NewAutoApply(f.deps).Handle(ctx, autoApplyTimer(app.ID)))

	require.Equal(t, 1, f.gen.count())
	assert.Equal(t, app.ID, f.gen.calls[0].ApplicationID)
	assert.Equal(t, "job-1", f.gen.calls[0].JobID)
	assert.Equal(t, run.ID, f.gen.calls[0].RunID)

	got, err := f.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusGeneratingResume, got.Status)

	stored, err := f.apps.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StageApplied, stored.Stage)
	require.NotNil(t, stored.AppliedAt)
	assert.True(t, stored.AppliedAt.Equal(f.now))

	assert.Equal(t, []notify.Type{notify.TypeDocumentsGenerating}, f.notes.types())
}

func TestAutoApply_TriggerFailureFailsWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApp(t, application.StageBeingApplied)
	run, err := f.runs.Create(ctx, app.ID, app.UserID)
	require.NoError(t, err)
	f.gen.err = errors.NewExternalServiceError("generation", "POST /generate returned 502 Bad Gateway")

	require.NoError(t, NewAutoApply(f.deps).Handle(ctx, autoApplyTimer(app.ID)))

	got, err := f.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "502")

	stored, err := f.apps.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StageBeingApplied, stored.Stage)
	assert.Nil(t, stored.AppliedAt)

	assert.Equal(t, []notify.Type{notify.TypeGenerationFailed}, f.notes.types())
}

func TestAutoApply_NoOps(t *testing.T) {
	ctx := context.Background()

	t.Run("application missing", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, NewAutoApply(f.deps).Handle(ctx, autoApplyTimer("gone")))
		assert.Zero(t, f.gen.count())
	})

	t.Run("no workflow run", func(t *testing.T) {
		f := newFixture(t)
		app := f.createApp(t, application.StageBeingApplied)
		require.NoError(t, NewAutoApply(f.deps).Handle(ctx, autoApplyTimer(app.ID)))
		assert.Zero(t, f.gen.count())
	})

	t.Run("workflow cancelled", func(t *testing.T) {
		f := newFixture(t)
		app := f.createApp(t, application.StageBeingApplied)
		run, err := f.runs.Create(ctx, app.ID, app.UserID)
		require.NoError(t, err)
		require.NoError(t, f.runs.Cancel(ctx, run.ID))

		require.NoError(t, NewAutoApply(f.deps).Handle(ctx, autoApplyTimer(app.ID)))
		assert.Zero(t, f.gen.count())
		assert.Empty(t, f.notes.types())
	})

	t.Run("generation already started", func(t *testing.T) {
		f := newFixture(t)
		app := f.createApp(t, application.StageBeingApplied)
		run, err := f.runs.Create(ctx, app.ID, app.UserID)
		require.NoError(t, err)
		require.NoError(t, f.runs.UpdateStatus(ctx, run.ID, workflow.StatusGeneratingResume, ""))

		require.NoError(t, NewAutoApply(f.deps).Handle(ctx, autoApplyTimer(app.ID)))
		assert.Zero(t, f.gen.count())
	})
}

func TestAutoApply_RejectsForeignPayload(t *testing.T) {
	f := newFixture(t)
	tm := autoApplyTimer("app-1")
	tm.Payload = timer.FollowUpPayload{Round: 1}

	assert.Error(t, NewAutoApply(f.deps).Handle(context.Background(), tm))
}
