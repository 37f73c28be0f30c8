package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/pulse/timer"
)

// DocumentDeletion removes generated documents once their grace period ends.
// A document still attached to another application is kept.
type DocumentDeletion struct {
	deps   Deps
	logger *zap.SugaredLogger
}

func NewDocumentDeletion(deps Deps) *DocumentDeletion {
	deps = deps.withDefaults()
	return &DocumentDeletion{deps: deps, logger: logger.AddPulseSymbol(deps.Logger.Named("document-deletion"))}
}

func (h *DocumentDeletion) Kind() timer.Kind { return timer.KindDocumentDeletion }

func (h *DocumentDeletion) Handle(ctx context.Context, t *timer.Timer) error {
	payload, ok := t.Payload.(timer.DocumentDeletionPayload)
	if !ok {
		return errors.Newf("document-deletion timer %s carries %T", t.ID, t.Payload)
	}
	owner := payload.ApplicationID
	if owner == "" {
		owner = t.TargetID
	}
	log := h.logger.With(logger.FieldTimerID, t.ID, logger.FieldApplicationID, owner)

	deleted := 0
	for _, id := range payload.DocumentIDs() {
		ok, err := h.deleteOne(ctx, log.With(logger.FieldDocumentID, id), id, owner)
		if err != nil {
			return err
		}
		if ok {
			deleted++
		}
	}
	log.Infow("Document cleanup finished", logger.FieldCount, deleted)
	return nil
}

func (h *DocumentDeletion) deleteOne(ctx context.Context, log *zap.SugaredLogger, id, owner string) (bool, error) {
	refs, err := h.deps.Applications.CountReferences(ctx, id, owner)
	if err != nil {
		return false, errors.Wrapf(err, "failed to count references to %s", id)
	}
	if refs > 0 {
		log.Infow("Document still in use, keeping it", "references", refs)
		return false, nil
	}

	doc, err := h.deps.Documents.Get(ctx, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to load document %s", id)
	}
	if doc == nil {
		log.Debugw("Document already deleted")
		return false, nil
	}

	if h.deps.Blobs != nil && doc.StorageKey != "" {
		if err := h.deps.Blobs.Delete(ctx, doc.StorageKey); err != nil {
			log.Warnw("Failed to delete stored file", "storage_key", doc.StorageKey, logger.FieldError, err)
		}
	}

	removed, err := h.deps.Documents.Delete(ctx, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete document %s", id)
	}
	return removed, nil
}
