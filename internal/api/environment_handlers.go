package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

// Environments is the farm API surface exposed over HTTP
type Environments interface {
	CreateEnvironment(ctx context.Context, req models.CreateEnvironmentRequest) (*models.Environment, error)
	Launch(ctx context.Context, id string) (*models.LaunchInfo, error)
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.ListFilter) ([]models.EnvironmentSummary, error)
}

// EnvironmentHandler passes environment requests through to the farm
type EnvironmentHandler struct {
	farm Environments
	log  logrus.FieldLogger
}

// NewEnvironmentHandler creates a new environment HTTP handler
func NewEnvironmentHandler(farm Environments, log logrus.FieldLogger) *EnvironmentHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EnvironmentHandler{farm: farm, log: log}
}

// CreateEnvironment handles POST /v1/environments
func (h *EnvironmentHandler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New("invalid request body: "+err.Error()), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, errors.New("name is required"), http.StatusBadRequest)
		return
	}

	env, err := h.farm.CreateEnvironment(r.Context(), req)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	h.log.WithFields(logrus.Fields{"environment_id": env.ID, "name": req.Name}).Info("environment created")
	writeJSON(w, http.StatusCreated, env)
}

// LaunchEnvironment handles POST /v1/environments/{id}/launch
func (h *EnvironmentHandler) LaunchEnvironment(w http.ResponseWriter, r *http.Request) {
	info, err := h.farm.Launch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// StopEnvironment handles POST /v1/environments/{id}/stop
func (h *EnvironmentHandler) StopEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := h.farm.Stop(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteEnvironment handles DELETE /v1/environments/{id}
func (h *EnvironmentHandler) DeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := h.farm.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEnvironments handles GET /v1/environments
func (h *EnvironmentHandler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	envs, err := h.farm.List(r.Context(), models.ListFilter{
		Group:  q.Get("group"),
		Name:   q.Get("name"),
		Remark: q.Get("remark"),
	})
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}
