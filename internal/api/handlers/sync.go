package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kimhsiao/timeaudit/internal/errors"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
	"github.com/kimhsiao/timeaudit/internal/sync/queue"
	"github.com/kimhsiao/timeaudit/internal/sync/scheduler"
)

// SyncRunner runs retry passes.
type SyncRunner interface {
	TriggerSync(ctx context.Context) bool
	SyncNow(ctx context.Context) (*syncpkg.SyncResult, error)
	GetStatus() scheduler.SchedulerStatus
}

// QueueInspector reports local queue state.
type QueueInspector interface {
	Stats() queue.Stats
	Health() error
}

// SyncReporter reports the synchronizer's own state.
type SyncReporter interface {
	Status() syncpkg.SyncStatus
	LastError() error
}

// SyncHandler handles sync operations and status.
type SyncHandler struct {
	runner   SyncRunner
	queue    QueueInspector
	reporter SyncReporter
}

// NewSyncHandler creates a new SyncHandler. reporter may be nil.
func NewSyncHandler(runner SyncRunner, q QueueInspector, reporter SyncReporter) *SyncHandler {
	return &SyncHandler{runner: runner, queue: q, reporter: reporter}
}

// Sync handles POST /api/sync
// Starts a background pass; with ?wait=true runs it and returns the result.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		result, err := h.runner.SyncNow(r.Context())
		if err != nil && result == nil {
			writeError(w, err)
			return
		}
		response := map[string]interface{}{"result": result}
		if err != nil {
			response["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	started := h.runner.TriggerSync(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": started,
	})
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Queue         queue.Stats               `json:"queue"`
	Scheduler     scheduler.SchedulerStatus `json:"scheduler"`
	SyncState     syncpkg.SyncStatus        `json:"sync_state,omitempty"`
	LastSyncError string                    `json:"last_sync_error,omitempty"`
	StoreError    string                    `json:"store_error,omitempty"`
	StoreCode     string                    `json:"store_code,omitempty"`
}

// Status handles GET /api/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	response := StatusResponse{
		Queue:     h.queue.Stats(),
		Scheduler: h.runner.GetStatus(),
	}
	if h.reporter != nil {
		response.SyncState = h.reporter.Status()
		if err := h.reporter.LastError(); err != nil {
			response.LastSyncError = err.Error()
		}
	}
	if err := h.queue.Health(); err != nil {
		response.StoreError = err.Error()
		response.StoreCode = string(errors.CodeOf(err))
	}
	writeJSON(w, http.StatusOK, response)
}

// Health handles GET /api/health
// Reports "degraded" while the local queue store is unreadable.
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	response := map[string]interface{}{
		"status":  "ok",
		"service": "timeaudit",
	}
	status := http.StatusOK
	if err := h.queue.Health(); err != nil {
		response["status"] = "degraded"
		response["error_code"] = string(errors.CodeOf(err))
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}
