// Package runner defines the interfaces the engine core consumes for the
// per-node program runner and file storage (§6) — both out-of-scope
// external collaborators per §1; the core never depends on a concrete
// sandbox or storage implementation.
package runner

import "context"

// ResourceLimits mirrors model.ResourceLimits for the runner request shape
// (§6 "Program runner").
type ResourceLimits struct {
	MaxCPUPercentage int
	MaxMemoryMB      int
	MaxDiskMB        int
}

// ProjectExecutionRequest is the input to ExecuteProject (§6).
type ProjectExecutionRequest struct {
	ProgramID      string
	VersionID      string
	UserID         string
	Parameters     map[string]any
	Environment    map[string]string
	TimeoutMinutes int
	ResourceLimits ResourceLimits
}

// ProjectExecutionResult is the output of ExecuteProject (§6).
type ProjectExecutionResult struct {
	Success      bool
	ExecutionID  string
	ExitCode     int
	Output       string
	ErrorOutput  string
	DurationMS   int64
	OutputFiles  []OutputFile
	ErrorMessage string
}

// OutputFile is a single file path reported by the runner.
type OutputFile struct {
	FileName string
	Path     string
}

// ProgramRunner executes a single node's program in a sandbox (§6 "Program
// runner"). The engine core only ever depends on this interface.
type ProgramRunner interface {
	ExecuteProject(ctx context.Context, req ProjectExecutionRequest) (ProjectExecutionResult, error)
}

// FileStorage fetches and packages output files by owning program id and
// path (§6 "File storage").
type FileStorage interface {
	GetFileContent(ctx context.Context, programID, versionRef, path string) ([]byte, error)
	BulkDownloadFiles(ctx context.Context, refs []FileRef) ([]byte, error)
}

// FileRef identifies a single file to fetch from the file-storage
// collaborator.
type FileRef struct {
	ProgramID  string
	VersionRef string
	Path       string
	FileName   string
}
