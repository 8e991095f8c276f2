package server

import (
	"encoding/json"
	"net/http"
	"time"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/provider"
)

// --- Helpers ---

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}

// writeError maps a coded error to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if code := mnemeErrors.AsCode(err); code != "" {
		body["code"] = code
	}
	if sug := mnemeErrors.Suggestion(err); sug != "" {
		body["suggestion"] = sug
	}
	jsonResponse(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch mnemeErrors.AsCode(err) {
	case mnemeErrors.CodeValidation, mnemeErrors.CodeInvalidFilter:
		return http.StatusBadRequest
	case mnemeErrors.CodeNotFound:
		return http.StatusNotFound
	case mnemeErrors.CodeDuplicateTitle:
		return http.StatusConflict
	case mnemeErrors.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case mnemeErrors.CodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"name":    s.cfg.Name,
		"store":   s.cfg.Store.Driver,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"clients": s.broker.ClientCount(),
	})
}

// --- Memories ---

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	filter, err := memory.CompileFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, err)
		return
	}
	all, err := s.svc.ListMemories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	matched, err := filter.Apply(all)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, matched)
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var m memory.Memory
	if err := decodeJSON(r, &m); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	added, err := s.svc.AddMemory(r.Context(), m)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, added)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")
	var patch memory.Patch
	if err := decodeJSON(r, &patch); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	updated, err := s.svc.UpdateMemory(r.Context(), title, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.svc.DeleteMemory(r.Context(), r.PathValue("title"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleClearMemories(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ClearAllMemories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	results, strategy := s.svc.SearchMemories(r.Context(), body.Query, body.Limit)
	if results == nil {
		results = []memory.Memory{}
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"strategy": strategy,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string             `json:"message"`
		History []provider.Message `json:"history"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Message == "" {
		jsonError(w, http.StatusBadRequest, "message is required")
		return
	}

	if r.URL.Query().Get("sync") == "true" {
		jsonResponse(w, http.StatusOK, s.svc.ExtractAndPersist(r.Context(), body.Message, body.History))
		return
	}
	jobID := s.svc.SubmitExtraction(body.Message, body.History)
	jsonResponse(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// --- Chat ---

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Message == "" {
		jsonError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.svc.Chat(r.Context(), body.SessionID, body.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, reply)
}

func (s *Server) handleResetChat(w http.ResponseWriter, r *http.Request) {
	s.svc.ResetSession(r.PathValue("session"))
	w.WriteHeader(http.StatusNoContent)
}
