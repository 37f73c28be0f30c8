package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/document"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/pulse/timer"
)

func deletionTimer(appID, resumeID, coverID string) *timer.Timer {
	return &timer.Timer{
		ID:       "delete-" + appID,
		UserID:   "user-1",
		Kind:     timer.KindDocumentDeletion,
		TargetID: appID,
		Payload:  timer.DocumentDeletionPayload{ResumeID: resumeID, CoverLetterID: coverID},
	}
}

func TestDocumentDeletion_DeletesOnceAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resume := f.createDoc(t, "app-1", document.KindResume)
	cover := f.createDoc(t, "app-1", document.KindCoverLetter)
	h := NewDocumentDeletion(f.deps)
	tm := deletionTimer("app-1", resume.ID, cover.ID)

	require.NoError(t, h.Handle(ctx, tm))
	require.NoError(t, h.Handle(ctx, tm))

	for _, id := range []string{resume.ID, cover.ID} {
		doc, err := f.docs.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, doc)
	}
	assert.Equal(t, []string{resume.StorageKey, cover.StorageKey}, f.blobs.deleted)
}

func TestDocumentDeletion_KeepsDocumentsStillInUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resume := f.createDoc(t, "app-1", document.KindResume)

	other := f.createApp(t, application.StageApplied)
	require.NoError(t, f.apps.AttachDocuments(ctx, other.ID, resume.ID, ""))

	require.NoError(t, NewDocumentDeletion(f.deps).Handle(ctx, deletionTimer("app-1", resume.ID, "")))

	doc, err := f.docs.Get(ctx, resume.ID)
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.Empty(t, f.blobs.deleted)
}

func TestDocumentDeletion_IgnoresOwnReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApp(t, application.StageApplied)
	resume := f.createDoc(t, app.ID, document.KindResume)
	require.NoError(t, f.apps.AttachDocuments(ctx, app.ID, resume.ID, ""))

	require.NoError(t, NewDocumentDeletion(f.deps).Handle(ctx, deletionTimer(app.ID, resume.ID, "")))

	doc, err := f.docs.Get(ctx, resume.ID)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestDocumentDeletion_StorageErrorIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resume := f.createDoc(t, "app-1", document.KindResume)
	f.blobs.err = errors.NewExternalServiceError("storage", "503")

	require.NoError(t, NewDocumentDeletion(f.deps).Handle(ctx, deletionTimer("app-1", resume.ID, "")))

	doc, err := f.docs.Get(ctx, resume.ID)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestDocumentDeletion_MissingRecords(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, NewDocumentDeletion(f.deps).Handle(context.Background(), deletionTimer("app-1", "nope", "also-nope")))
	assert.Empty(t, f.blobs.deleted)
}
