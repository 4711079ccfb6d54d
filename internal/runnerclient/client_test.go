package runnerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-engine/internal/config"
	"github.com/smilemakc/workflow-engine/internal/runner"
)

func TestClient_ExecuteProject_DecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		var req runner.ProjectExecutionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "prog-1", req.ProgramID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(runner.ProjectExecutionResult{
			Success:     true,
			ExecutionID: "exec-1",
			Output:      "done",
		})
	}))
	defer srv.Close()

	client := New(config.RunnerConfig{BaseURL: srv.URL, Timeout: time.Second})
	result, err := client.ExecuteProject(context.Background(), runner.ProjectExecutionRequest{ProgramID: "prog-1"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "done", result.Output)
}

func TestClient_ExecuteProject_PropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(config.RunnerConfig{BaseURL: srv.URL, Timeout: time.Second})
	_, err := client.ExecuteProject(context.Background(), runner.ProjectExecutionRequest{})
	require.Error(t, err)
}

func TestClient_GetFileContent_ReturnsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/prog-1/v1/out.txt", r.URL.Path)
		_, _ = w.Write([]byte("file contents"))
	}))
	defer srv.Close()

	client := New(config.RunnerConfig{BaseURL: srv.URL, Timeout: time.Second})
	data, err := client.GetFileContent(context.Background(), "prog-1", "v1", "out.txt")
	require.NoError(t, err)
	require.Equal(t, "file contents", string(data))
}

func TestClient_DisplayName_ReturnsCatalogName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/programs/prog-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "Send Email"})
	}))
	defer srv.Close()

	client := New(config.RunnerConfig{BaseURL: srv.URL, Timeout: time.Second})
	require.Equal(t, "Send Email", client.DisplayName("prog-1"))
}

func TestClient_DisplayName_FallsBackToIDWhenCatalogUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(config.RunnerConfig{BaseURL: srv.URL, Timeout: time.Second})
	require.Equal(t, "prog-1", client.DisplayName("prog-1"))
}

func TestClient_BulkDownloadFiles_ReturnsArchiveBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/bulk", r.URL.Path)
		var refs []runner.FileRef
		require.NoError(t, json.NewDecoder(r.Body).Decode(&refs))
		require.Len(t, refs, 1)
		_, _ = w.Write([]byte("zip-bytes"))
	}))
	defer srv.Close()

	client := New(config.RunnerConfig{BaseURL: srv.URL, Timeout: time.Second})
	data, err := client.BulkDownloadFiles(context.Background(), []runner.FileRef{{ProgramID: "p", VersionRef: "v", Path: "f"}})
	require.NoError(t, err)
	require.Equal(t, "zip-bytes", string(data))
}
