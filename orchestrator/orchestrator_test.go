package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/document"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/generation"
	jptest "github.com/teranos/jobpulse/internal/testing"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/workflow"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generation.Request
	err   error
}

func (g *fakeGenerator) Trigger(_ context.Context, req generation.Request) (*generation.Accepted, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &generation.Accepted{}, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type inbox struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (i *inbox) add(n notify.Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.notes = append(i.notes, n)
}

func (i *inbox) types() []notify.Type {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]notify.Type, 0, len(i.notes))
	for _, n := range i.notes {
		out = append(out, n.Type)
	}
	return out
}

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	orch  *Orchestrator
	gen   *fakeGenerator
	clock *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := jptest.CreateTestDB(t)
	h := &harness{gen: &fakeGenerator{}, clock: &clock{now: t0}}
	h.orch = New(conn, db.DialectSQLite, Services{Generator: h.gen}, Config{Now: h.clock.Now}, zap.NewNop().Sugar())
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) accept(t *testing.T, appID string) *AcceptResult {
	t.Helper()
	res, err := h.orch.AcceptApplication(context.Background(), AcceptRequest{
		ApplicationID: appID,
		UserID:        "user-1",
		JobID:         "job-" + appID,
		Company:       "Acme",
		Position:      "SRE",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) tickAt(t *testing.T, at time.Time) timer.TickResult {
	t.Helper()
	h.clock.Set(at)
	res, err := h.orch.ProcessPendingTimers(context.Background())
	require.NoError(t, err)
	return res
}

func TestScenario_AutoApplyFiresAfterDelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	got := &inbox{}
	unsubscribe := h.orch.SubscribeToNotifications("user-1", got.add)
	defer unsubscribe()

	res := h.accept(t, "app-1")
	assert.Equal(t, application.StageBeingApplied, res.Application.Stage)
	assert.True(t, res.DueAt.Equal(t0.Add(60*time.Second)))

	early := h.tickAt(t, t0.Add(30*time.Second))
	assert.Zero(t, early.Claimed)
	assert.Zero(t, h.gen.count())

	fired := h.tickAt(t, t0.Add(61*time.Second))
	assert.Equal(t, 1, fired.Claimed)
	assert.Equal(t, 1, fired.Completed)
	assert.Equal(t, 1, h.gen.count())

	run, err := h.orch.tracker.GetByApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusGeneratingResume, run.Status)

	app, err := h.orch.apps.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, application.StageApplied, app.Stage)

	assert.Equal(t, []notify.Type{notify.TypeDocumentsGenerating}, got.types())
	unread, err := h.orch.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestScenario_RollbackWhilePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.accept(t, "app-1")

	result, err := h.orch.Rollback(ctx, "app-1")
	require.NoError(t, err)
	assert.True(t, result.WorkflowCancelled)
	assert.Equal(t, 1, result.TimersCancelled)

	tick := h.tickAt(t, t0.Add(2*time.Minute))
	assert.Zero(t, tick.Claimed)
	assert.Zero(t, h.gen.count())

	run, err := h.orch.tracker.GetByApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, run.Status)

	_, err = h.orch.Rollback(ctx, "app-1")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestScenario_RepeatedRollbackOfReusedIDReclaimsBothResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	generateAndRollback := func(at time.Time) *application.Application {
		h.accept(t, "app-1")
		h.tickAt(t, at)
		run, err := h.orch.tracker.GetByApplication(ctx, "app-1")
		require.NoError(t, err)
		require.NoError(t, h.orch.HandleGenerationCallback(ctx, completed("app-1", run.ID)))
		app, err := h.orch.apps.Get(ctx, "app-1")
		require.NoError(t, err)
		require.NotEmpty(t, app.GeneratedResumeID)

		_, err = h.orch.Rollback(ctx, "app-1")
		require.NoError(t, err)
		return app
	}

	h.clock.Set(t0)
	first := generateAndRollback(t0.Add(61 * time.Second))
	second := generateAndRollback(t0.Add(5 * time.Minute))
	require.NotEqual(t, first.GeneratedResumeID, second.GeneratedResumeID)

	pending, err := h.orch.Timers().ListByTarget(ctx, first.GeneratedResumeID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, timer.StatusPending, pending[0].Status)

	h.tickAt(t, t0.Add(48*time.Hour))

	for _, id := range []string{first.GeneratedResumeID, first.GeneratedCoverLetterID, second.GeneratedResumeID, second.GeneratedCoverLetterID} {
		doc, err := h.orch.docs.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, doc, "document %s should be reclaimed", id)
	}
}

func TestScenario_SharedResumeSurvivesDeletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resume := &document.Document{UserID: "user-1", Kind: document.KindResume, Filename: "cv.pdf", StorageKey: "user-1/cv.pdf"}
	require.NoError(t, h.orch.docs.Create(ctx, resume))
	for _, id := range []string{"app-a", "app-b"} {
		require.NoError(t, h.orch.apps.Create(ctx, &application.Application{ID: id, UserID: "user-1", JobID: "job-" + id, Stage: application.StageApplied}))
		require.NoError(t, h.orch.apps.AttachDocuments(ctx, id, resume.ID, ""))
	}

	_, err := h.orch.ScheduleDocDeletion(ctx, "user-1", "app-a", resume.ID, "", t0)
	require.NoError(t, err)
	tick := h.tickAt(t, t0.Add(time.Second))
	assert.Equal(t, 1, tick.Completed)

	doc, err := h.orch.docs.Get(ctx, resume.ID)
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestScenario_ConcurrentAutoApplyScheduling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orch.apps.Create(ctx, &application.Application{ID: "app-1", UserID: "user-1", JobID: "job-1", Stage: application.StageBeingApplied}))

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = h.orch.ScheduleAutoApply(ctx, "user-1", "app-1", "job-1", time.Minute)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	runs, err := h.orch.tracker.ListByApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestAcceptApplication_IdempotentPerID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.accept(t, "app-1")
	second := h.accept(t, "app-1")
	assert.Equal(t, first.TimerID, second.TimerID)

	_, err := h.orch.AcceptApplication(ctx, AcceptRequest{ApplicationID: "app-1", UserID: "someone-else", JobID: "job-app-1"})
	assert.True(t, errors.IsNotFoundError(err))

	_, err = h.orch.AcceptApplication(ctx, AcceptRequest{UserID: "user-1"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestAcceptApplication_UsesUserDelay(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.apps.PutSettings(context.Background(), &application.Settings{UserID: "user-1", AutoApplyDelaySeconds: 300}))

	res := h.accept(t, "app-1")
	assert.True(t, res.DueAt.Equal(t0.Add(5*time.Minute)))
}

func TestScheduleFollowUp_RespectsLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.orch.ScheduleFollowUp(ctx, "user-1", "app-1", t0.Add(time.Hour))
	require.NoError(t, err)
	tm, err := h.orch.Timers().Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, tm.Decode())
	assert.Equal(t, timer.FollowUpPayload{Round: 1}, tm.Payload)

	for i := 0; i < application.MaxFollowUps; i++ {
		_, _, err := h.orch.apps.IncrementFollowUp(ctx, "app-1", t0)
		require.NoError(t, err)
	}
	_, err = h.orch.ScheduleFollowUp(ctx, "user-1", "app-1", t0.Add(time.Hour))
	assert.True(t, errors.IsConflictError(err))
}

func TestCancelTimersByTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.accept(t, "app-1")

	n, err := h.orch.CancelTimersByTarget(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.orch.CancelTimersByTarget(ctx, "app-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubscriptions_ReturnToBaseline(t *testing.T) {
	h := newHarness(t)
	baseline := h.orch.GetActiveConnectionCount()

	unsubs := make([]func(), 0, 25)
	for i := 0; i < 25; i++ {
		unsubs = append(unsubs, h.orch.SubscribeToNotifications("user-1", func(notify.Notification) {}))
	}
	assert.Equal(t, baseline+25, h.orch.GetActiveConnectionCount())

	for _, u := range unsubs {
		u()
		u()
	}
	assert.Equal(t, baseline, h.orch.GetActiveConnectionCount())
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.orch.Start()
	assert.True(t, h.orch.DispatcherStats().Running)
	h.orch.Stop()
	assert.False(t, h.orch.DispatcherStats().Running)
	require.NoError(t, h.orch.Ping(context.Background()))
}
