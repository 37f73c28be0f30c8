package timer

import (
	"encoding/json"

	"github.com/teranos/jobpulse/errors"
)

// Payload is the kind-specific data a timer carries.
// Exactly one concrete type belongs to each Kind.
type Payload interface {
	payloadKind() Kind
}

// AutoApplyPayload is carried by auto-apply-delay timers
type AutoApplyPayload struct {
	JobID string `json:"job_id"`
}

// FollowUpPayload is carried by follow-up-reminder timers
type FollowUpPayload struct {
	// Round is the reminder this timer was scheduled as (1-based)
	Round int `json:"round"`
}

// DocumentDeletionPayload is carried by document-deletion timers.
// ApplicationID names the application the documents came from; references
// from it do not keep a document alive.
type DocumentDeletionPayload struct {
	ResumeID      string `json:"resume_id"`
	CoverLetterID string `json:"cover_letter_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
}

// Target is the timer target for this payload: the resume, else the cover letter.
// Document IDs are never reused, so a later rollback of a recreated
// application cannot cancel the deletion.
func (p DocumentDeletionPayload) Target() string {
	if p.ResumeID != "" {
		return p.ResumeID
	}
	return p.CoverLetterID
}

// DocumentIDs returns the non-empty document IDs in deletion order
func (p DocumentDeletionPayload) DocumentIDs() []string {
	ids := make([]string, 0, 2)
	if p.ResumeID != "" {
		ids = append(ids, p.ResumeID)
	}
	if p.CoverLetterID != "" {
		ids = append(ids, p.CoverLetterID)
	}
	return ids
}

// LegacyPayload is whatever a deprecated timer kind stored; it is never inspected
type LegacyPayload struct {
	kind Kind
	Raw  json.RawMessage
}

func (AutoApplyPayload) payloadKind() Kind        { return KindAutoApplyDelay }
func (FollowUpPayload) payloadKind() Kind         { return KindFollowUpReminder }
func (DocumentDeletionPayload) payloadKind() Kind { return KindDocumentDeletion }
func (p LegacyPayload) payloadKind() Kind         { return p.kind }

// EncodePayload serializes p for storage after checking it belongs to kind
func EncodePayload(kind Kind, p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, errors.NewInvalidRequestError("%s timer requires a payload", kind)
	}
	if got := p.payloadKind(); got != kind {
		return nil, errors.NewInvalidRequestError("payload for %s does not fit a %s timer", got, kind)
	}

	switch v := p.(type) {
	case AutoApplyPayload:
		if v.JobID == "" {
			return nil, errors.NewInvalidRequestError("auto-apply payload requires job_id")
		}
	case FollowUpPayload:
		if v.Round < 1 {
			return nil, errors.NewInvalidRequestError("follow-up payload round must be >= 1, got %d", v.Round)
		}
	case DocumentDeletionPayload:
		if v.ResumeID == "" && v.CoverLetterID == "" {
			return nil, errors.NewInvalidRequestError("document-deletion payload requires at least one document id")
		}
	case LegacyPayload:
		if len(v.Raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return v.Raw, nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s payload", kind)
	}
	return raw, nil
}

// DecodePayload parses a stored payload for kind
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var (
		p   Payload
		err error
	)
	switch kind {
	case KindAutoApplyDelay:
		var v AutoApplyPayload
		err = json.Unmarshal(raw, &v)
		if err == nil && v.JobID == "" {
			err = errors.New("missing job_id")
		}
		p = v
	case KindFollowUpReminder:
		var v FollowUpPayload
		err = json.Unmarshal(raw, &v)
		if err == nil && v.Round < 1 {
			v.Round = 1
		}
		p = v
	case KindDocumentDeletion:
		var v DocumentDeletionPayload
		err = json.Unmarshal(raw, &v)
		if err == nil && v.ResumeID == "" && v.CoverLetterID == "" {
			err = errors.New("no document ids")
		}
		p = v
	case KindCVVerificationTimeout, KindMessageVerificationTimeout:
		return LegacyPayload{kind: kind, Raw: raw}, nil
	default:
		return nil, errors.NewInvalidRequestError("unknown timer kind %q", kind)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s payload", kind)
	}
	return p, nil
}
