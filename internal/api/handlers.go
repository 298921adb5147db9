package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hubnity/timer-agent/internal/store"
	"github.com/hubnity/timer-agent/internal/syncqueue"
	"github.com/hubnity/timer-agent/internal/timerengine"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func stateResponse(state timerengine.TimerStateForAPI) map[string]interface{} {
	return map[string]interface{}{
		"state":                 state.State,
		"elapsed_seconds":       state.ElapsedSeconds,
		"accumulated_seconds":   state.AccumulatedSeconds,
		"today_seconds":         state.TodaySeconds,
		"session_start":         state.SessionStart,
		"is_sleep_detected":     state.IsSleepDetected,
		"restored_from_running": state.RestoredFromRunning,
		"day_start":             state.DayStart,
	}
}

// --- timer handlers ---

func (s *Server) handleTimerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.respondWithState(w)
}

func (s *Server) handleTimerPause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.respondWithState(w)
}

func (s *Server) handleTimerResume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.respondWithState(w)
}

func (s *Server) handleTimerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.respondWithState(w)
}

func (s *Server) handleTimerResetDay(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetDay(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.respondWithState(w)
}

func (s *Server) handleTimerState(w http.ResponseWriter, r *http.Request) {
	s.respondWithState(w)
}

func (s *Server) respondWithState(w http.ResponseWriter) {
	state, err := s.engine.GetState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// --- sync handlers ---

type enqueueRequest struct {
	EntityType string                 `json:"entity_type"`
	ID         string                 `json:"id"`
	Data       map[string]interface{} `json:"data"`
}

func (s *Server) handleSyncEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.EntityType == "" {
		writeError(w, http.StatusBadRequest, errRequiredField("entity_type"))
		return
	}

	payload, err := syncqueue.TimeEntryPayload(req.ID, req.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	priority := syncqueue.PriorityFromEntityType(req.EntityType)
	id, err := s.store.EnqueueSync(req.EntityType, string(payload), int(priority), time.Now().Unix())
	if err != nil {
		status := http.StatusInternalServerError
		if err == store.ErrQueueFull {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int64{"id": id})
}

type screenshotRequest struct {
	TimeEntryID string `json:"time_entry_id"`
	ImageBase64 string `json:"image_base64"`
}

func (s *Server) handleSyncScreenshot(w http.ResponseWriter, r *http.Request) {
	var req screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TimeEntryID == "" || req.ImageBase64 == "" {
		writeError(w, http.StatusBadRequest, errRequiredField("time_entry_id and image_base64"))
		return
	}

	pngData, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, err := syncqueue.ScreenshotPayload(pngData, req.TimeEntryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	id, err := s.store.EnqueueSync(syncqueue.EntityScreenshot, string(payload), int(syncqueue.PriorityFromEntityType(syncqueue.EntityScreenshot)), time.Now().Unix())
	if err != nil {
		status := http.StatusInternalServerError
		if err == store.ErrQueueFull {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int64{"id": id})
}

func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	go s.worker.RunOnce(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetQueueStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSyncFailed(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	tasks, err := s.store.GetFailedTasks(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleSyncFailedReset(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	affected, err := s.store.ResetFailedTasks(limit, time.Now().Unix())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": affected})
}

// --- auth handler ---

type setTokensRequest struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
}

func (s *Server) handleAuthTokens(w http.ResponseWriter, r *http.Request) {
	var req setTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, errRequiredField("access_token"))
		return
	}

	s.auth.SetTokens(&req.AccessToken, req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

// --- misc ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func errRequiredField(name string) error {
	return requiredFieldError{name}
}

type requiredFieldError struct{ field string }

func (e requiredFieldError) Error() string {
	return "api: missing required field: " + e.field
}
