package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/pyconsole/internal/console"
	"github.com/joescharf/pyconsole/internal/executor"
	"github.com/joescharf/pyconsole/internal/models"
	"github.com/joescharf/pyconsole/internal/store"
)

// setupTestServer wires a Server against a fake execution service and a
// temp SQLite store. The handler argument serves the execution endpoints;
// pass nil for tests that never execute.
func setupTestServer(t *testing.T, execHandler http.HandlerFunc) (*Server, *console.Session, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	if execHandler == nil {
		execHandler = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unexpected execution call", http.StatusInternalServerError)
		}
	}
	execSrv := httptest.NewServer(execHandler)
	t.Cleanup(execSrv.Close)

	session := console.NewSession()
	exec := executor.NewClient(execSrv.URL, false)
	srv := NewServer(session, exec, nil, s)

	return srv, session, s
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetConsole_Defaults(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)
	w := doJSON(t, srv.Router(), "GET", "/api/v1/console", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var snap console.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, console.DefaultGreeting, snap.Code)
	assert.False(t, snap.IsRunning)
}

func TestSetCode_ThenGet(t *testing.T) {
	srv, session, _ := setupTestServer(t, nil)
	router := srv.Router()

	w := doJSON(t, router, "PUT", "/api/v1/console/code", map[string]string{"code": "print(42)"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "print(42)", session.Code())
}

func TestSetCode_InvalidJSON(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest("PUT", "/api/v1/console/code", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetCursor(t *testing.T) {
	srv, session, _ := setupTestServer(t, nil)

	w := doJSON(t, srv.Router(), "PUT", "/api/v1/console/cursor", console.Cursor{Line: 7, Column: 3})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, console.Cursor{Line: 7, Column: 3}, session.Cursor())
}

func TestGetOutput_RecentAndFull(t *testing.T) {
	srv, session, _ := setupTestServer(t, nil)
	session.AppendOutput("line one\nline two")
	router := srv.Router()

	w := doJSON(t, router, "GET", "/api/v1/console/output", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var recent map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recent))
	assert.Equal(t, []string{"line one", "line two"}, recent["lines"])

	w = doJSON(t, router, "GET", "/api/v1/console/output?full=true", nil)
	var full map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &full))
	assert.Contains(t, full["output"], "line one")
}

func TestGetContext(t *testing.T) {
	srv, session, _ := setupTestServer(t, nil)
	session.SetCode("x = 1")

	w := doJSON(t, srv.Router(), "GET", "/api/v1/console/context", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["context"], "## Current Code")
	assert.Contains(t, resp["context"], "x = 1")
}

func TestExecute_Success(t *testing.T) {
	srv, session, s := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/python/runcode", r.URL.Path)
		json.NewEncoder(w).Encode(executor.Response{Stdout: "hello\n", Result: 42})
	})
	session.SetCode("print('hello')\n42")

	w := doJSON(t, srv.Router(), "POST", "/api/v1/console/execute", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Run models.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.RunStatusOK, resp.Run.Status)
	assert.Equal(t, "hello\n", resp.Run.Stdout)
	assert.Equal(t, "42", resp.Run.Result)

	assert.Contains(t, session.OutputLines(), "hello")

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusOK, runs[0].Status)
}

func TestExecute_WithCodeInBody(t *testing.T) {
	srv, session, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req executor.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "print(1)", req.Code)
		json.NewEncoder(w).Encode(executor.Response{Stdout: "1\n"})
	})

	w := doJSON(t, srv.Router(), "POST", "/api/v1/console/execute", map[string]string{"code": "print(1)"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "print(1)", session.Code())
}

func TestExecute_ErrorRecorded(t *testing.T) {
	tb := "Traceback (most recent call last):\n" +
		"  File \"<string>\", line 1, in <module>\n" +
		"ZeroDivisionError: division by zero\n"
	srv, session, s := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executor.Response{ExecutionError: tb})
	})

	w := doJSON(t, srv.Router(), "POST", "/api/v1/console/execute", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	structured := session.LastStructuredError()
	require.NotNil(t, structured)
	assert.Equal(t, "ZeroDivisionError", structured.ErrorType)

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusError, runs[0].Status)
	assert.Equal(t, "ZeroDivisionError", runs[0].ErrorType)
}

func TestExecute_ServiceFailure(t *testing.T) {
	srv, _, s := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "worker crashed", http.StatusBadGateway)
	})

	w := doJSON(t, srv.Router(), "POST", "/api/v1/console/execute", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestInterrupt(t *testing.T) {
	srv, _, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/python/interrupt", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	w := doJSON(t, srv.Router(), "POST", "/api/v1/console/interrupt", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestActionLifecycle(t *testing.T) {
	srv, session, _ := setupTestServer(t, nil)
	session.SetCode("a\nb\nc")
	router := srv.Router()

	// Nothing pending yet
	w := doJSON(t, router, "GET", "/api/v1/actions/pending", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Dispatch
	w = doJSON(t, router, "POST", "/api/v1/actions", console.EditAction{
		Type: console.EditReplaceBlock, StartLine: 2, EndLine: 2, Code: "B",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	var dispatched map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dispatched))
	assert.NotEmpty(t, dispatched["dispatchId"])

	// Peek leaves it in place
	w = doJSON(t, router, "GET", "/api/v1/actions/pending", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Consume clears the slot
	w = doJSON(t, router, "POST", "/api/v1/actions/consume", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var action console.EditAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &action))
	assert.Equal(t, dispatched["dispatchId"], action.DispatchID)

	w = doJSON(t, router, "POST", "/api/v1/actions/consume", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Apply
	w = doJSON(t, router, "POST", "/api/v1/actions/apply", action)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a\nB\nc", session.Code())

	// Re-apply with the same dispatch ID is a no-op
	w = doJSON(t, router, "POST", "/api/v1/actions/apply", action)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a\nB\nc", session.Code())
}

func TestDispatchAction_UnknownType(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)

	w := doJSON(t, srv.Router(), "POST", "/api/v1/actions", console.EditAction{Type: "INSERT_LINE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyAction_InvalidRange(t *testing.T) {
	srv, session, _ := setupTestServer(t, nil)
	session.SetCode("a\nb")

	w := doJSON(t, srv.Router(), "POST", "/api/v1/actions/apply", console.EditAction{
		DispatchID: "01TEST", Type: console.EditReplaceBlock, StartLine: 5, EndLine: 9, Code: "x",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "a\nb", session.Code())
}

func TestResetConsole(t *testing.T) {
	srv, session, _ := setupTestServer(t, nil)
	session.SetCode("broken")
	session.AppendOutput("junk")

	w := doJSON(t, srv.Router(), "POST", "/api/v1/console/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, console.DefaultGreeting, session.Code())
	assert.Empty(t, session.OutputLines())
}

func TestListRuns_LimitValidation(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)

	w := doJSON(t, srv.Router(), "GET", "/api/v1/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)

	w := doJSON(t, srv.Router(), "GET", "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_NoLLMConfigured(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)

	w := doJSON(t, srv.Router(), "POST", "/api/v1/chat", map[string]string{"prompt": "help"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatHistory_EmptyAndClear(t *testing.T) {
	srv, _, s := setupTestServer(t, nil)
	router := srv.Router()

	require.NoError(t, s.CreateChatMessage(context.Background(), &models.ChatMessage{
		Role: models.ChatRoleUser, Content: "hi",
	}))

	w := doJSON(t, router, "GET", "/api/v1/chat/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var messages []*models.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 1)

	w = doJSON(t, router, "DELETE", "/api/v1/chat/history", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/chat/history", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	assert.Empty(t, messages)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := setupTestServer(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/v1/console", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
