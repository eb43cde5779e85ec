// Package sandbox materializes project file trees on disk and runs preview
// processes against them. Each spawned process gets its own process group so
// a kill takes down npm's child servers too.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/filetree"
	"github.com/devmate/devmate/pkg/logging"
)

// LocalRuntime runs previews as local child processes under a scratch root.
type LocalRuntime struct {
	root        string
	previewPort int
	logger      *logging.Logger
}

// NewLocalRuntime creates a runtime rooted at scratchDir.
func NewLocalRuntime(scratchDir string, previewPort int, logger *logging.Logger) (*LocalRuntime, error) {
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "devmate-previews")
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeSandboxUnavailable, "create scratch dir")
	}
	return &LocalRuntime{
		root:        scratchDir,
		previewPort: previewPort,
		logger:      logger,
	}, nil
}

func (r *LocalRuntime) PreviewPort() int { return r.previewPort }

// Mount wipes the project workspace and writes the tree wholesale. Edits to
// already-running previews re-mount the full tree rather than patching files
// in place; the tree in memory is the single source of truth.
func (r *LocalRuntime) Mount(projectID string, tree filetree.Nested) (string, error) {
	dir := filepath.Join(r.root, projectID)
	if err := os.RemoveAll(dir); err != nil {
		return "", derrors.Wrap(err, derrors.ErrCodeSandboxUnavailable, "clear workspace").
			WithContext("project", projectID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", derrors.Wrap(err, derrors.ErrCodeSandboxUnavailable, "create workspace").
			WithContext("project", projectID)
	}

	if err := writeNested(dir, tree); err != nil {
		return "", err
	}

	if r.logger != nil {
		_ = r.logger.Debug(logging.CategorySandbox, "tree_mounted", "workspace materialized",
			map[string]any{"project": projectID, "dir": dir})
	}
	return dir, nil
}

func writeNested(dir string, tree filetree.Nested) error {
	for name, node := range tree {
		path := filepath.Join(dir, name)
		switch {
		case node.File != nil:
			if err := os.WriteFile(path, []byte(node.File.Contents), 0o644); err != nil {
				return derrors.Wrap(err, derrors.ErrCodeSandboxUnavailable, "write file").
					WithContext("path", name)
			}
		case node.Directory != nil:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return derrors.Wrap(err, derrors.ErrCodeSandboxUnavailable, "create directory").
					WithContext("path", name)
			}
			if err := writeNested(path, node.Directory); err != nil {
				return err
			}
		default:
			return derrors.New(derrors.ErrCodeInternal, fmt.Sprintf("node %q is neither file nor directory", name))
		}
	}
	return nil
}
