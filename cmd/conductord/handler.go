package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	conductor "github.com/nevindra/conductor"
)

const maxRequestBodyBytes = 32 << 20 // 32MB

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", a.handleChat)
	mux.HandleFunc("POST /v1/research", a.handleResearchStart)
	mux.HandleFunc("GET /v1/research/{id}", a.handleResearchStatus)
	mux.HandleFunc("GET /v1/research/{id}/result", a.handleResearchResult)
	mux.HandleFunc("POST /v1/embeddings", a.handleEmbeddings)
	mux.HandleFunc("POST /v1/rerank", a.handleRerank)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	return mux
}

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	var req conductor.ChatRequest
	if !readJSON(w, r, &req) {
		return
	}
	env, err := a.service.Complete(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type researchStartRequest struct {
	Query string `json:"query"`
}

type researchStartResponse struct {
	PlanID string `json:"plan_id"`
}

func (a *app) handleResearchStart(w http.ResponseWriter, r *http.Request) {
	var req researchStartRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	id, err := a.orchestrator.Start(r.Context(), req.Query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, researchStartResponse{PlanID: id})
}

func (a *app) handleResearchStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.orchestrator.Status(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *app) handleResearchResult(w http.ResponseWriter, r *http.Request) {
	res, err := a.orchestrator.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "html" && len(res.Artifact) > 0 {
		w.Header().Set("Content-Type", res.ArtifactMIME)
		w.WriteHeader(http.StatusOK)
		w.Write(res.Artifact)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type embedRequest struct {
	Input     []string `json:"input"`
	InputType string   `json:"input_type"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

func (a *app) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if a.embedder == nil {
		writeError(w, http.StatusNotImplemented, "embedding backend not configured")
		return
	}
	var req embedRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Input) == 0 {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	vecs, err := a.embedder.Embed(r.Context(), req.Input, req.InputType)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, embedResponse{Embeddings: vecs, Dimensions: a.embedder.Dimensions()})
}

type rerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
}

type rerankResponse struct {
	Results []conductor.Ranked `json:"results"`
}

func (a *app) handleRerank(w http.ResponseWriter, r *http.Request) {
	if a.reranker == nil {
		writeError(w, http.StatusNotImplemented, "rerank backend not configured")
		return
	}
	var req rerankRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Query == "" || len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "query and candidates are required")
		return
	}
	ranked, err := a.reranker.Rerank(r.Context(), req.Query, req.Candidates)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rerankResponse{Results: ranked})
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := a.monitor.Snapshot()
	metrics := a.coordinator.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"pressure": snap.Level,
		"tokens": map[string]int64{
			"reserved": snap.Reserved,
			"ceiling":  snap.Ceiling,
		},
		"agents": map[string]any{
			"workers": metrics.Workers,
			"queued":  metrics.QueueDepth,
		},
	})
}

// --- helpers ---

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conductor.ErrUnknownModel), errors.Is(err, conductor.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conductor.ErrExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, conductor.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conductor.ErrResourceExhausted):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, conductor.ErrPlanInvalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
