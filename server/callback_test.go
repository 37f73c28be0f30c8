package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/orchestrator"
	"github.com/teranos/jobpulse/workflow"
)

const completedUpdate = `{
	"application_id": "app-1",
	"workflow_run_id": "run-1",
	"status": "completed",
	"resume": {"filename": "resume.pdf", "storage_key": "users/user-1/resume.pdf"}
}`

func postCallback(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGenerationCallbackPlainJSON(t *testing.T) {
	core := newFakeCore()
	s := newTestServer(t, core, am.ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/callbacks/generation", strings.NewReader(completedUpdate))
	req.Header.Set("Content-Type", "application/json")
	rec := postCallback(s, req)

	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, core.updates, 1)
	u := core.updates[0]
	assert.Equal(t, "app-1", u.ApplicationID)
	assert.Equal(t, "run-1", u.RunID)
	assert.Equal(t, workflow.StatusCompleted, u.Status)
	require.NotNil(t, u.Resume)
	assert.Equal(t, "users/user-1/resume.pdf", u.Resume.StorageKey)
	assert.Nil(t, u.CoverLetter)
}

func TestGenerationCallbackBinaryCloudEvent(t *testing.T) {
	core := newFakeCore()
	s := newTestServer(t, core, am.ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/callbacks/generation", strings.NewReader(completedUpdate))
	req.Header.Set("Ce-Specversion", "1.0")
	req.Header.Set("Ce-Id", "evt-1")
	req.Header.Set("Ce-Source", "//generation/pipeline")
	req.Header.Set("Ce-Type", "dev.jobpulse.generation.status")
	req.Header.Set("Content-Type", "application/json")
	rec := postCallback(s, req)

	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, core.updates, 1)
	assert.Equal(t, "app-1", core.updates[0].ApplicationID)
	assert.Equal(t, workflow.StatusCompleted, core.updates[0].Status)
}

func TestGenerationCallbackStructuredCloudEvent(t *testing.T) {
	core := newFakeCore()
	s := newTestServer(t, core, am.ServerConfig{})

	event := cloudevents.NewEvent()
	event.SetID("evt-2")
	event.SetSource("//generation/pipeline")
	event.SetType("dev.jobpulse.generation.status")
	// The application comes from the subject
	event.SetSubject("app-7")
	require.NoError(t, event.SetData(cloudevents.ApplicationJSON, map[string]interface{}{
		"status": "failed",
		"error":  "template rendering failed",
	}))
	body, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/callbacks/generation", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/cloudevents+json")
	rec := postCallback(s, req)

	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, core.updates, 1)
	assert.Equal(t, orchestrator.GenerationUpdate{
		ApplicationID: "app-7",
		Status:        workflow.StatusFailed,
		Error:         "template rendering failed",
	}, core.updates[0])
}

func TestGenerationCallbackRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		body    string
	}{
		{"truncated json", map[string]string{"Content-Type": "application/json"}, `{"application_id":`},
		{"cloudevent without id", map[string]string{
			"Ce-Specversion": "1.0",
			"Ce-Source":      "//generation/pipeline",
			"Ce-Type":        "dev.jobpulse.generation.status",
			"Content-Type":   "application/json",
		}, completedUpdate},
		{"cloudevent data is not an update", map[string]string{
			"Ce-Specversion": "1.0",
			"Ce-Id":          "evt-3",
			"Ce-Source":      "//generation/pipeline",
			"Ce-Type":        "dev.jobpulse.generation.status",
			"Content-Type":   "application/json",
		}, `["completed"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newFakeCore()
			s := newTestServer(t, core, am.ServerConfig{})

			req := httptest.NewRequest(http.MethodPost, "/api/callbacks/generation", strings.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := postCallback(s, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, core.updates)
		})
	}
}

func TestGenerationCallbackErrors(t *testing.T) {
	t.Run("validation failure", func(t *testing.T) {
		core := newFakeCore()
		core.callbackErr = errors.NewInvalidRequestError("completed update for app-1 carries no documents")
		s := newTestServer(t, core, am.ServerConfig{})

		req := httptest.NewRequest(http.MethodPost, "/api/callbacks/generation", strings.NewReader(completedUpdate))
		rec := postCallback(s, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("storage failure asks for redelivery", func(t *testing.T) {
		core := newFakeCore()
		core.callbackErr = errors.New("database is locked")
		s := newTestServer(t, core, am.ServerConfig{})

		req := httptest.NewRequest(http.MethodPost, "/api/callbacks/generation", strings.NewReader(completedUpdate))
		rec := postCallback(s, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
