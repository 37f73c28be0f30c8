package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/orchestrator"
	"github.com/teranos/jobpulse/version"
)

// maxListLimit caps GET /api/notifications
const maxListLimit = 200

// acceptBody is the POST /api/applications/{id}/accept payload
type acceptBody struct {
	JobID    string `json:"job_id"`
	Company  string `json:"company"`
	Position string `json:"position"`
}

// HandleAccept records the user's decision to apply and schedules auto-apply
func (s *Server) HandleAccept(w http.ResponseWriter, r *http.Request) {
	var body acceptBody
	if err := readJSON(w, r, &body); err != nil {
		return
	}

	res, err := s.core.AcceptApplication(r.Context(), orchestrator.AcceptRequest{
		ApplicationID: r.PathValue("id"),
		UserID:        r.Header.Get(UserHeader),
		JobID:         body.JobID,
		Company:       body.Company,
		Position:      body.Position,
	})
	if err != nil {
		writeServiceError(w, r, s.logger, err, "failed to accept application")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleRegenerate starts a fresh document-generation run
func (s *Server) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	run, err := s.core.Regenerate(r.Context(), r.Header.Get(UserHeader), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, s.logger, err, "failed to regenerate documents")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// HandleRollback undoes an application the caller owns
func (s *Server) HandleRollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	app, err := s.core.GetApplication(r.Context(), id)
	if err == nil && app.UserID != r.Header.Get(UserHeader) {
		err = errors.NewNotFoundError("application %s", id)
	}
	if err != nil {
		writeServiceError(w, r, s.logger, err, "failed to roll back application")
		return
	}

	res, err := s.core.Rollback(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, s.logger, err, "failed to roll back application")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGenerationCallback applies a progress report from the generation pipeline.
// Accepts a CloudEvent in binary or structured mode, or the bare update as JSON.
func (s *Server) HandleGenerationCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	u, err := s.decodeGenerationUpdate(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err, "invalid generation callback")
		return
	}

	if err := s.core.HandleGenerationCallback(r.Context(), u); err != nil {
		writeServiceError(w, r, s.logger, err, "failed to apply generation update")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isCloudEvent(r *http.Request) bool {
	return r.Header.Get("Ce-Specversion") != "" ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/cloudevents")
}

func (s *Server) decodeGenerationUpdate(r *http.Request) (orchestrator.GenerationUpdate, error) {
	var u orchestrator.GenerationUpdate

	if !isCloudEvent(r) {
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			return u, errors.NewInvalidRequestError("malformed generation update: %v", err)
		}
		return u, nil
	}

	event, err := cloudevents.NewEventFromHTTPRequest(r)
	if err != nil {
		return u, errors.NewInvalidRequestError("malformed CloudEvent: %v", err)
	}
	if err := event.Validate(); err != nil {
		return u, errors.NewInvalidRequestError("invalid CloudEvent: %v", err)
	}
	if err := json.Unmarshal(event.Data(), &u); err != nil {
		return u, errors.NewInvalidRequestError("CloudEvent %s data: %v", event.ID(), err)
	}
	// The subject names the application when the data leaves it out
	if u.ApplicationID == "" {
		u.ApplicationID = event.Subject()
	}
	logger.FromContext(r.Context(), s.logger).Debugw("Generation CloudEvent received",
		"event_id", event.ID(),
		"event_type", event.Type(),
		"event_source", event.Source(),
		logger.FieldApplicationID, u.ApplicationID,
	)
	return u, nil
}

// notificationList is the GET /api/notifications response
type notificationList struct {
	Notifications interface{} `json:"notifications"`
	Unread        int         `json:"unread"`
}

// HandleListNotifications returns the caller's notifications, newest first.
// Query: limit (default 50, max 200), unread=true for unread only.
func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	unreadOnly := false
	if raw := q.Get("unread"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unread must be true or false")
			return
		}
		unreadOnly = b
	}

	notes, err := s.core.ListNotifications(r.Context(), userID, limit, unreadOnly)
	if err != nil {
		writeServiceError(w, r, s.logger, err, "failed to list notifications")
		return
	}
	unread, err := s.core.CountUnread(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, s.logger, err, "failed to count unread notifications")
		return
	}

	resp := notificationList{Notifications: notes, Unread: unread}
	if len(notes) == 0 {
		resp.Notifications = []struct{}{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMarkRead marks one of the caller's notifications as read
func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.core.MarkNotificationRead(r.Context(), r.Header.Get(UserHeader), r.PathValue("id")); err != nil {
		writeServiceError(w, r, s.logger, err, "failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleNotificationStream upgrades to a WebSocket that carries the caller's
// notifications as JSON text frames. Browsers cannot set headers on the
// upgrade request, so the user may also come from the user_id query parameter.
func (s *Server) HandleNotificationStream(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		writeError(w, http.StatusUnauthorized, UserHeader+" header or user_id parameter required")
		return
	}
	if s.atCapacity(s.ClientCount()) {
		writeError(w, http.StatusServiceUnavailable, "too many notification streams")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	c := newClient(s, conn, userID)
	if !s.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	unsubscribe := s.core.SubscribeToNotifications(userID, c.deliver)
	s.logger.Infow("Notification stream opened", "client", c.id, logger.FieldUserID, userID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	c.readPump()

	// No callback runs once unsubscribe returns, so send can be closed
	unsubscribe()
	close(c.send)
	s.unregister(c)
	s.logger.Infow("Notification stream closed", "client", c.id, logger.FieldUserID, userID)
}

// HandleHealth reports database reachability, live subscriptions, the
// dispatcher state and host memory
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()

	status := "ok"
	code := http.StatusOK
	database := "ok"
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.core.Ping(ctx); err != nil {
		status, database = "degraded", "unreachable"
		code = http.StatusServiceUnavailable
		s.logger.Warnw("Health check database ping failed", logger.FieldError, err)
	}

	health := map[string]interface{}{
		"status":        status,
		"version":       versionInfo.Version,
		"commit":        versionInfo.CommitHash,
		"build_time":    versionInfo.BuildTime,
		"database":      database,
		"subscriptions": s.core.GetActiveConnectionCount(),
		"clients":       s.ClientCount(),
		"dispatcher":    s.core.DispatcherStats(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory"] = map[string]interface{}{
			"total_bytes":     vm.Total,
			"available_bytes": vm.Available,
			"used_percent":    vm.UsedPercent,
		}
	}

	writeJSON(w, code, health)
}
