// Package collab runs the server side of an open project: it holds the
// authoritative file tree and chat log, applies edits and AI file-tree
// fragments, and drives the preview process lifecycle.
package collab

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/devmate/devmate/pkg/channel"
	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/filetree"
	"github.com/devmate/devmate/pkg/logging"
	"github.com/devmate/devmate/pkg/storage"
)

// RunState is the preview lifecycle state.
type RunState string

const (
	RunIdle     RunState = "idle"
	RunStarting RunState = "starting"
	RunRunning  RunState = "running"
	RunError    RunState = "error"
)

// Store is the persistence surface a session needs.
type Store interface {
	GetProject(id string) (*storage.Project, error)
	UpdateFileTree(projectID string, tree filetree.Flat) error
	SaveMessage(msg *storage.ChatMessage) error
	ListMessages(projectID string, limit int) ([]storage.ChatMessage, error)
	ListUsersExcept(excludeID string) ([]storage.User, error)
}

// Process is a running preview as the session sees it.
type Process interface {
	Ready() <-chan string
	Done() <-chan struct{}
	Kill()
	Err() error
	OutputTail() string
}

// Runtime mounts trees and spawns preview processes.
type Runtime interface {
	Mount(projectID string, tree filetree.Nested) (string, error)
	Spawn(ctx context.Context, dir, name string, args ...string) (Process, error)
	PreviewPort() int
}

// Notifier broadcasts events to the project's room.
type Notifier interface {
	Publish(ctx context.Context, ev channel.Event)
}

// Session is the controller for one open project. All mutation goes through
// its methods; the mutex keeps the tree, log, and run state consistent.
type Session struct {
	projectID string
	store     Store
	runtime   Runtime
	notifier  Notifier
	logger    *logging.Logger

	mu        sync.Mutex
	project   *storage.Project
	tree      filetree.Flat
	messages  []storage.ChatMessage
	directory []storage.User
	runState  RunState
	runURL    string
	proc      Process
	runGen    uint64
}

// NewSession creates an unopened session for a project.
func NewSession(projectID string, store Store, runtime Runtime, notifier Notifier, logger *logging.Logger) *Session {
	return &Session{
		projectID: projectID,
		store:     store,
		runtime:   runtime,
		notifier:  notifier,
		logger:    logger,
		runState:  RunIdle,
	}
}

// Open loads the project and its chat history. The user directory is fetched
// concurrently so the tree never waits on it, and a directory failure only
// degrades the collaborator picker.
func (s *Session) Open(ctx context.Context, userID string) error {
	var (
		project  *storage.Project
		messages []storage.ChatMessage
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.store.GetProject(s.projectID)
		if err != nil {
			return err
		}
		project = p
		msgs, err := s.store.ListMessages(s.projectID, 0)
		if err != nil {
			return err
		}
		messages = msgs
		return nil
	})
	g.Go(func() error {
		users, err := s.store.ListUsersExcept(userID)
		if err != nil {
			if s.logger != nil {
				_ = s.logger.Warn(logging.CategoryProject, "directory_fetch_failed",
					"user directory unavailable, collaborator picker degraded",
					map[string]any{"project": s.projectID, "error": err.Error()})
			}
			return nil
		}
		s.mu.Lock()
		s.directory = users
		s.mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.project = project
	s.tree = project.FileTree
	s.messages = messages
	s.mu.Unlock()
	return nil
}

// Project returns the loaded project record.
func (s *Session) Project() *storage.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// Tree returns the current flat tree.
func (s *Session) Tree() filetree.Flat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Messages returns the chat log loaded and accumulated so far.
func (s *Session) Messages() []storage.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Directory returns the user directory for the collaborator picker; empty
// when enrichment failed.
func (s *Session) Directory() []storage.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directory
}

// State returns the current run state and preview URL.
func (s *Session) State() (RunState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runState, s.runURL
}

// HandleMessage records an inbound chat message. AI messages carrying a
// file-tree fragment also update the tree: the fragment is validated, merged
// over the current tree, persisted, and re-mounted. A malformed or invalid
// fragment leaves the tree untouched; the message still lands in the log.
func (s *Session) HandleMessage(ctx context.Context, ev channel.Event) error {
	msg := &storage.ChatMessage{
		ProjectID: s.projectID,
		Body:      ev.Message,
	}
	if ev.Sender != nil {
		msg.SenderID = ev.Sender.ID
		msg.SenderEmail = ev.Sender.Email
	}
	if err := s.store.SaveMessage(msg); err != nil {
		return err
	}

	s.mu.Lock()
	s.messages = append(s.messages, *msg)
	s.mu.Unlock()

	if !ev.FromAI() {
		return nil
	}

	payload := channel.ParsePayload(ev.Message)
	structured, ok := payload.(channel.StructuredMessage)
	if !ok || len(structured.FileTree) == 0 {
		return nil
	}

	if err := filetree.Validate(structured.FileTree); err != nil {
		if s.logger != nil {
			_ = s.logger.Warn(logging.CategoryFileTree, "fragment_rejected",
				"AI file-tree fragment failed validation",
				map[string]any{"project": s.projectID, "error": err.Error()})
		}
		return nil
	}

	s.mu.Lock()
	s.tree = filetree.MergeFragment(s.tree, structured.FileTree)
	merged := s.tree
	s.mu.Unlock()

	if err := s.store.UpdateFileTree(s.projectID, merged); err != nil {
		return err
	}

	if _, err := s.runtime.Mount(s.projectID, filetree.Normalize(merged)); err != nil {
		if s.logger != nil {
			_ = s.logger.Error(logging.CategorySandbox, "mount_failed",
				"could not materialize merged tree",
				map[string]any{"project": s.projectID, "error": err.Error()})
		}
	}
	return nil
}

// EditFile applies a single-file edit and persists it. Edits go through even
// when the room or preview is down.
func (s *Session) EditFile(path, contents string) error {
	s.mu.Lock()
	candidate := filetree.SetFile(s.tree, path, contents)
	s.mu.Unlock()

	if err := filetree.Validate(candidate); err != nil {
		return err
	}

	s.mu.Lock()
	s.tree = candidate
	s.mu.Unlock()

	return s.store.UpdateFileTree(s.projectID, candidate)
}

// ReplaceTree swaps the whole tree, for callers that edited it outside the
// session. The in-memory copy updates first so a concurrent Run or AI merge
// never works from the superseded snapshot.
func (s *Session) ReplaceTree(tree filetree.Flat) error {
	if err := filetree.Validate(tree); err != nil {
		return err
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()

	return s.store.UpdateFileTree(s.projectID, tree)
}

// Run starts (or restarts) the preview. Any previous process is killed before
// the new one spawns, so at most one preview per project is ever alive. Run
// returns once the launch is underway; readiness is announced through the
// notifier as run-state events.
func (s *Session) Run(ctx context.Context) error {
	// Bump the generation and take the live handle in one critical section:
	// any in-flight launch is invalidated before it can register a process.
	s.mu.Lock()
	s.runGen++
	gen := s.runGen
	prev := s.proc
	s.proc = nil

	tree := s.tree
	var kind string
	switch {
	case filetree.HasManifest(tree):
		kind = "node"
	case filetree.HasMarkup(tree):
		kind = "static"
	default:
		s.runState = RunError
		s.runURL = ""
		s.mu.Unlock()
		if prev != nil {
			prev.Kill()
		}
		s.announce(ctx, RunError, "")
		return derrors.New(derrors.ErrCodeRunFailed, "nothing to run").
			WithUserMessage("Add a package.json or an HTML file to run this project.").
			WithContext("project", s.projectID)
	}
	s.runState = RunStarting
	s.runURL = ""
	s.mu.Unlock()

	if prev != nil {
		prev.Kill()
	}

	s.announce(ctx, RunStarting, "")
	go s.launch(ctx, gen, tree, kind)
	return nil
}

// registerProc records the launch's current process handle so a superseding
// Run can kill it. It reports false, after killing the process, when the
// launch has been superseded.
func (s *Session) registerProc(gen uint64, proc Process) bool {
	s.mu.Lock()
	if gen != s.runGen {
		s.mu.Unlock()
		proc.Kill()
		return false
	}
	s.proc = proc
	s.mu.Unlock()
	return true
}

// launch mounts the tree and drives the process to running or error. Stale
// generations bail out silently after a newer Run superseded them.
func (s *Session) launch(ctx context.Context, gen uint64, tree filetree.Flat, kind string) {
	if kind == "static" {
		tree = filetree.ScaffoldStaticServer(tree, s.runtime.PreviewPort())
	}

	dir, err := s.runtime.Mount(s.projectID, filetree.Normalize(tree))
	if err != nil {
		s.fail(ctx, gen, err)
		return
	}

	if kind == "node" {
		install, err := s.runtime.Spawn(ctx, dir, "npm", "install")
		if err != nil {
			s.fail(ctx, gen, err)
			return
		}
		// The install is the launch's live handle: a Run issued while it is
		// still going must be able to kill it.
		if !s.registerProc(gen, install) {
			return
		}
		select {
		case <-install.Done():
		case <-ctx.Done():
			install.Kill()
			return
		}
		s.mu.Lock()
		superseded := gen != s.runGen
		if !superseded {
			s.proc = nil
		}
		s.mu.Unlock()
		if superseded {
			return
		}
		if err := install.Err(); err != nil {
			s.fail(ctx, gen, derrors.Wrap(err, derrors.ErrCodeRunFailed, "npm install failed").
				WithContext("output", install.OutputTail()))
			return
		}
	}

	var proc Process
	if kind == "node" {
		proc, err = s.runtime.Spawn(ctx, dir, "npm", "start")
	} else {
		proc, err = s.runtime.Spawn(ctx, dir, "node", "server.js")
	}
	if err != nil {
		s.fail(ctx, gen, err)
		return
	}
	if !s.registerProc(gen, proc) {
		return
	}

	select {
	case url := <-proc.Ready():
		s.mu.Lock()
		if gen != s.runGen {
			s.mu.Unlock()
			return
		}
		s.runState = RunRunning
		s.runURL = url
		s.mu.Unlock()
		s.announce(ctx, RunRunning, url)
	case <-proc.Done():
		s.fail(ctx, gen, derrors.New(derrors.ErrCodeRunFailed, "preview exited before becoming ready").
			WithContext("output", proc.OutputTail()))
	case <-ctx.Done():
		proc.Kill()
	}
}

func (s *Session) fail(ctx context.Context, gen uint64, err error) {
	s.mu.Lock()
	if gen != s.runGen {
		s.mu.Unlock()
		return
	}
	s.runState = RunError
	s.runURL = ""
	s.proc = nil
	s.mu.Unlock()

	if s.logger != nil {
		_ = s.logger.Error(logging.CategorySandbox, "run_failed", "preview launch failed",
			map[string]any{"project": s.projectID, "error": err.Error()})
	}
	s.announce(ctx, RunError, "")
}

func (s *Session) announce(ctx context.Context, state RunState, url string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, channel.Event{
		Type:      channel.EventRunState,
		ProjectID: s.projectID,
		RunState:  string(state),
		URL:       url,
	})
}

// Close kills any live preview and resets the run state. The session must be
// closed before the project is opened again.
func (s *Session) Close() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.runGen++
	s.runState = RunIdle
	s.runURL = ""
	s.mu.Unlock()

	if proc != nil {
		proc.Kill()
	}
}
