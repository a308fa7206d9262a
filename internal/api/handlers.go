package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/internal/faults"
	"github.com/shehryarbajwa/browserfarm/internal/playbook"
	"github.com/shehryarbajwa/browserfarm/internal/run"
	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

const maxPlaybookBytes = 1 << 20

// Handler holds dependencies for run HTTP handlers
type Handler struct {
	runs          *run.Manager
	actionTimeout time.Duration
	log           logrus.FieldLogger
}

// NewHandler creates a new HTTP handler
func NewHandler(runs *run.Manager, actionTimeout time.Duration, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		runs:          runs,
		actionTimeout: actionTimeout,
		log:           log,
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto an HTTP status
func writeError(w http.ResponseWriter, err error, fallback int) {
	status := fallback
	switch {
	case errors.Is(err, run.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, run.ErrCapacity):
		status = http.StatusTooManyRequests
	case errors.Is(err, run.ErrFinished):
		status = http.StatusConflict
	case errors.Is(err, faults.ErrRemote), errors.Is(err, faults.ErrMissingPort):
		status = http.StatusBadGateway
	}

	body := errorBody{Error: err.Error()}
	if kind := faults.KindOf(err); kind != nil {
		body.Kind = kind.Error()
	}
	writeJSON(w, status, body)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRun handles POST /v1/runs. The body is a playbook in YAML or JSON.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPlaybookBytes))
	if err != nil {
		writeError(w, fmt.Errorf("read body: %w", err), http.StatusBadRequest)
		return
	}
	pb, err := playbook.Parse(body)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	clientID := getClientID(r)
	started, err := h.runs.Start(run.Job{
		ClientID:    clientID,
		Driver:      pb.Driver,
		Spec:        pb.RunSpec("", ""),
		Interaction: pb.Interaction(h.log.WithField("client_id", clientID), h.actionTimeout),
	})
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	h.log.WithFields(logrus.Fields{
		"run_id":    started.ID,
		"client_id": clientID,
		"playbook":  pb.Name,
	}).Info("run accepted")
	writeJSON(w, http.StatusCreated, started)
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	found, err := h.runs.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	status := models.RunStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, h.runs.List(getClientID(r), status))
}

// CancelRun handles DELETE /v1/runs/{id}. Teardown continues in the background.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runs.Cancel(mux.Vars(r)["id"]); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDebugURL handles GET /v1/runs/{id}/debug
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ep, err := h.runs.DebugEndpoint(id)
	if err != nil {
		writeError(w, err, http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"debuggerUrl": fmt.Sprintf("ws://%s/v1/runs/%s/ws", r.Host, id),
		"runId":       id,
		"endpoint":    ep.Address(),
	})
}
