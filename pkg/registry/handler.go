package registry

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/engine"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/scenario"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type startRequest struct {
	TestID           string `json:"test-id"`
	BlockStoragePath string `json:"block-storage-path"`
	TestType         string `json:"test-type"`
}

type startResponse struct {
	TestID   string `json:"test-id"`
	Accepted bool   `json:"accepted"`
	TestType string `json:"test-type"`
	Error    string `json:"error,omitempty"`
}

type statusResponse struct {
	TestID          string           `json:"test-id"`
	State           string           `json:"state"`
	CurrentPhase    string           `json:"current-phase"`
	ProgressPercent int              `json:"progress-percent"`
	Result          *scenario.Result `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// Handler exposes the registry over the REST surface the gateway calls.
func Handler(reg *Registry, logger zerolog.Logger) http.Handler {
	h := &handler{reg: reg, log: logger.With().Str("component", "http").Logger()}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/test/initialize", h.initialize).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/test/start", h.start).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/test/{id}/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/test/{id}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)
	return r
}

type handler struct {
	reg *Registry
	log zerolog.Logger
}

func (h *handler) initialize(w http.ResponseWriter, _ *http.Request) {
	id := h.reg.Initialize()
	writeJSON(w, http.StatusOK, map[string]string{"test-id": id.String()})
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Accepted: false, Error: "malformed request body"})
		return
	}
	id, err := uuid.Parse(req.TestID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{TestID: req.TestID, Accepted: false, Error: "invalid test id"})
		return
	}
	bucket, err := storage.ParseLocation(req.BlockStoragePath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{TestID: req.TestID, Accepted: false, Error: err.Error()})
		return
	}
	if err := h.reg.Start(id, bucket, req.TestType); err != nil {
		writeJSON(w, http.StatusConflict, startResponse{TestID: req.TestID, Accepted: false, TestType: req.TestType, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, startResponse{TestID: req.TestID, Accepted: true, TestType: req.TestType})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid test id"})
		return
	}
	snap, err := h.reg.Snapshot(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusOf(snap))
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid test id"})
		return
	}
	if err := h.reg.Delete(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func statusOf(snap engine.Snapshot) statusResponse {
	resp := statusResponse{
		TestID:          snap.TestID.String(),
		State:           stateOf(snap.State),
		CurrentPhase:    string(snap.State),
		ProgressPercent: progressOf(snap.State),
		Result:          snap.Result,
		Error:           snap.Cause,
	}
	return resp
}

func stateOf(s engine.State) string {
	switch s {
	case engine.StateUninitialized:
		return "Uninitialized"
	case engine.StateCompleted:
		return "Completed"
	case engine.StateFailed, engine.StateDeleted:
		return "Failed"
	default:
		return "InProgress"
	}
}

func progressOf(s engine.State) int {
	switch s {
	case engine.StateUninitialized:
		return 0
	case engine.StateSetup:
		return 10
	case engine.StateLoaded:
		return 25
	case engine.StateExecuting:
		return 50
	case engine.StateCompleting:
		return 75
	default:
		return 100
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
