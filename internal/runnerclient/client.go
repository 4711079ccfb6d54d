// Package runnerclient is the reference adapter binding the engine core's
// runner.ProgramRunner/runner.FileStorage interfaces (§6) to an external
// Program Runner service over HTTP. The Program Runner itself is an
// out-of-scope external collaborator (§1) — this client only knows how to
// call it, never how to execute a program or store a file.
package runnerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/smilemakc/workflow-engine/internal/config"
	"github.com/smilemakc/workflow-engine/internal/runner"
)

// Client implements runner.ProgramRunner and runner.FileStorage by issuing
// HTTP requests to the configured Program Runner base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client from the runner's address and timeout.
func New(cfg config.RunnerConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

var _ runner.ProgramRunner = (*Client)(nil)
var _ runner.FileStorage = (*Client)(nil)

// DisplayName implements propagator.ProgramNames by asking the Program
// Runner's catalog for the program's display name. Falls back to the raw
// id when the catalog is unreachable or doesn't know it, matching the
// identity fallback the engine's own tests use for a program-name stub.
func (c *Client) DisplayName(programID string) string {
	var resp struct {
		Name string `json:"name"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s/programs/%s", c.baseURL, url.PathEscape(programID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return programID
	}
	res, err := c.http.Do(req)
	if err != nil {
		return programID
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return programID
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil || resp.Name == "" {
		return programID
	}
	return resp.Name
}

// ExecuteProject implements runner.ProgramRunner by POSTing the request to
// the Program Runner's /execute endpoint and decoding its JSON result.
func (c *Client) ExecuteProject(ctx context.Context, req runner.ProjectExecutionRequest) (runner.ProjectExecutionResult, error) {
	var result runner.ProjectExecutionResult
	if err := c.postJSON(ctx, "/execute", req, &result); err != nil {
		return runner.ProjectExecutionResult{}, fmt.Errorf("program runner execute: %w", err)
	}
	return result, nil
}

// GetFileContent implements runner.FileStorage by fetching a single file's
// bytes from the Program Runner's file-serving endpoint.
func (c *Client) GetFileContent(ctx context.Context, programID, versionRef, path string) ([]byte, error) {
	u := fmt.Sprintf("%s/files/%s/%s/%s", c.baseURL, url.PathEscape(programID), url.PathEscape(versionRef), url.PathEscape(path))
	return c.getBytes(ctx, u)
}

// BulkDownloadFiles implements runner.FileStorage by POSTing the selection
// list and returning the archive bytes the Program Runner assembles.
func (c *Client) BulkDownloadFiles(ctx context.Context, refs []runner.FileRef) ([]byte, error) {
	body, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("marshal file refs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bulk download request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("program runner returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("program runner returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(respBody)
}

func (c *Client) getBytes(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("program runner returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
