// Package api provides the REST and SSE surface for the console: session
// state, execution, edit actions, run history, and assistant chat.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/pyconsole/internal/console"
	"github.com/joescharf/pyconsole/internal/executor"
	"github.com/joescharf/pyconsole/internal/llm"
	"github.com/joescharf/pyconsole/internal/models"
	"github.com/joescharf/pyconsole/internal/prompt"
	"github.com/joescharf/pyconsole/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	session *console.Session
	exec    *executor.Client
	llm     *llm.Client
	store   store.Store
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(session *console.Session, exec *executor.Client, llmClient *llm.Client, s store.Store) *Server {
	return &Server{
		session: session,
		exec:    exec,
		llm:     llmClient,
		store:   s,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/console", s.getConsole)
	mux.HandleFunc("POST /api/v1/console/reset", s.resetConsole)
	mux.HandleFunc("PUT /api/v1/console/code", s.setCode)
	mux.HandleFunc("PUT /api/v1/console/cursor", s.setCursor)
	mux.HandleFunc("GET /api/v1/console/output", s.getOutput)
	mux.HandleFunc("GET /api/v1/console/context", s.getContext)

	mux.HandleFunc("POST /api/v1/console/execute", s.executeCode)
	mux.HandleFunc("POST /api/v1/console/interrupt", s.interruptExecution)

	mux.HandleFunc("POST /api/v1/actions", s.dispatchAction)
	mux.HandleFunc("GET /api/v1/actions/pending", s.getPendingAction)
	mux.HandleFunc("POST /api/v1/actions/consume", s.consumeAction)
	mux.HandleFunc("POST /api/v1/actions/apply", s.applyAction)

	mux.HandleFunc("GET /api/v1/runs", s.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.getRun)

	mux.HandleFunc("POST /api/v1/chat", s.chat)
	mux.HandleFunc("GET /api/v1/chat/history", s.chatHistory)
	mux.HandleFunc("DELETE /api/v1/chat/history", s.clearChatHistory)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Console state ---

func (s *Server) getConsole(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) resetConsole(w http.ResponseWriter, r *http.Request) {
	s.session.Reset()
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) setCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.session.SetCode(req.Code)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setCursor(w http.ResponseWriter, r *http.Request) {
	var c console.Cursor
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.session.SetCursor(c)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getOutput(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("full") == "true" {
		writeJSON(w, http.StatusOK, map[string]string{"output": s.session.FullOutputText()})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": s.session.OutputLines()})
}

func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	opts := prompt.DefaultOptions()
	if r.URL.Query().Get("full_output") == "true" {
		opts.IncludeFullOutput = true
	}
	ctx := prompt.BuildContext(s.session, opts)
	writeJSON(w, http.StatusOK, map[string]string{"context": prompt.FormatForAssistant(ctx, opts)})
}

// --- Execution ---

func (s *Server) executeCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Code != "" {
		s.session.SetCode(req.Code)
	}
	if s.session.IsRunning() {
		writeError(w, http.StatusConflict, "an execution is already in flight")
		return
	}

	start := time.Now()
	resp, err := s.exec.Execute(r.Context(), s.session)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		run := &models.Run{
			Code:       s.session.Code(),
			Status:     models.RunStatusFailed,
			DurationMs: duration,
		}
		s.recordRun(r, run)
		var statusErr *executor.StatusError
		if errors.As(err, &statusErr) {
			writeError(w, http.StatusBadGateway, statusErr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	run := &models.Run{
		Code:           s.session.Code(),
		Stdout:         resp.Stdout,
		Stderr:         resp.Stderr,
		ExecutionError: resp.ExecutionError,
		Status:         models.RunStatusOK,
		DurationMs:     duration,
	}
	if resp.Result != nil {
		run.Result = fmt.Sprintf("%v", resp.Result)
	}
	if resp.ExecutionError != "" {
		run.Status = models.RunStatusError
		if structured := s.session.LastStructuredError(); structured != nil {
			run.ErrorType = structured.ErrorType
			run.ErrorMessage = structured.ErrorMessage
			if structured.ErrorType == "KeyboardInterrupt" {
				run.Status = models.RunStatusInterrupted
			}
		}
	}
	s.recordRun(r, run)

	writeJSON(w, http.StatusOK, map[string]any{
		"run":      run,
		"snapshot": s.session.Snapshot(),
	})
}

func (s *Server) recordRun(r *http.Request, run *models.Run) {
	if s.store == nil {
		return
	}
	if err := s.store.CreateRun(r.Context(), run); err != nil {
		slog.Warn("failed to persist run", "error", err)
	}
}

func (s *Server) interruptExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.exec.Interrupt(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Edit actions ---

func (s *Server) dispatchAction(w http.ResponseWriter, r *http.Request) {
	var action console.EditAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if action.Type != console.EditReplaceBlock && action.Type != console.EditReplaceEntireScript {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown edit type %q", action.Type))
		return
	}
	id := s.session.DispatchEdit(action)
	writeJSON(w, http.StatusAccepted, map[string]string{"dispatchId": id})
}

func (s *Server) getPendingAction(w http.ResponseWriter, r *http.Request) {
	action := s.session.PendingAction()
	if action == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) consumeAction(w http.ResponseWriter, r *http.Request) {
	action := s.session.ConsumePendingAction()
	if action == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) applyAction(w http.ResponseWriter, r *http.Request) {
	var action console.EditAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.session.ApplyEdit(action); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": s.session.Code()})
}

// --- Run history ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Chat ---

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "chat history is not configured")
		return
	}
	messages, err := s.store.ListChatMessages(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) clearChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "chat history is not configured")
		return
	}
	if err := s.store.ClearChatMessages(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// chat streams the assistant reply over SSE. Text deltas arrive as
// "data:" events; when the reply settles into an edit proposal, the
// proposal is dispatched to the session and emitted as a single
// "event: proposal" frame instead of text.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "no LLM API key configured")
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var history []*models.ChatMessage
	if s.store != nil {
		var err error
		history, err = s.store.ListChatMessages(r.Context(), 20)
		if err != nil {
			slog.Warn("failed to load chat history", "error", err)
		}
	}

	opts := prompt.DefaultOptions()
	consoleCtx := prompt.BuildContext(s.session, opts)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	result, err := s.llm.ChatStream(r.Context(), llm.ChatRequest{
		Prompt:  req.Prompt,
		Context: prompt.FormatForAssistant(consoleCtx, opts),
		History: history,
	}, func(chunk string) {
		data, err := json.Marshal(map[string]string{"text": chunk})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	})
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}

	s.recordChat(r, models.ChatRoleUser, req.Prompt)

	if result.Proposal != nil {
		action, err := result.Proposal.ToAction()
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
			flusher.Flush()
			return
		}
		id := s.session.DispatchEdit(action)
		payload, _ := json.Marshal(map[string]any{
			"dispatchId":  id,
			"explanation": result.Proposal.Explanation,
			"editType":    result.Proposal.EditType,
		})
		fmt.Fprintf(w, "event: proposal\ndata: %s\n\n", payload)
		flusher.Flush()
		s.recordChat(r, models.ChatRoleAssistant, result.Proposal.Explanation)
		return
	}

	s.recordChat(r, models.ChatRoleAssistant, result.Text)
	fmt.Fprintf(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

func (s *Server) recordChat(r *http.Request, role models.ChatRole, content string) {
	if s.store == nil || content == "" {
		return
	}
	msg := &models.ChatMessage{Role: role, Content: content}
	if err := s.store.CreateChatMessage(r.Context(), msg); err != nil {
		slog.Warn("failed to persist chat message", "error", err)
	}
}
