package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/filetree"
	"github.com/devmate/devmate/pkg/logging"
	"github.com/devmate/devmate/pkg/storage"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	identity, _ := identityFromContext(r.Context())
	project := &storage.Project{Name: req.Name, OwnerID: identity.ID}
	if err := s.store.CreateProject(project); err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.logger != nil {
		_ = s.logger.Info(logging.CategoryProject, "project_created", project.Name,
			map[string]any{"project": project.ID, "owner": identity.ID})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": project})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	projects, err := s.store.ListProjectsForUser(identity.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// requireMember loads a project and checks the caller belongs to it.
func (s *Server) requireMember(r *http.Request, projectID string) (*storage.Project, error) {
	identity, _ := identityFromContext(r.Context())
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	member, err := s.store.IsMember(projectID, identity.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		// Non-members learn nothing beyond "not found".
		return nil, derrors.New(derrors.ErrCodeNotFound, "project not found").
			WithContext("project", projectID).WithContext("user", identity.ID)
	}
	return project, nil
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	project, err := s.requireMember(r, projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	messages, err := s.store.ListMessages(projectID, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project":  project,
		"messages": messages,
	})
}

// handleGetFile serves a single file's contents out of the project tree.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	project, err := s.requireMember(r, projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	path := r.URL.Query().Get("path")
	content, err := filetree.Get(project.FileTree, path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"path":     path,
		"contents": content.Contents,
	})
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string   `json:"projectId"`
		Users     []string `json:"users"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	if _, err := s.requireMember(r, req.ProjectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.AddCollaborators(req.ProjectID, req.Users); err != nil {
		s.writeError(w, r, err)
		return
	}

	project, err := s.store.GetProject(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleUpdateFileTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string        `json:"projectId"`
		FileTree  filetree.Flat `json:"fileTree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	if _, err := s.requireMember(r, req.ProjectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := filetree.Validate(req.FileTree); err != nil {
		s.writeError(w, r, err)
		return
	}

	// A live session holds the authoritative copy of the tree; writing only
	// to storage would leave it running against a superseded snapshot.
	var err error
	if session, ok := s.sessions.Get(req.ProjectID); ok {
		err = session.ReplaceTree(req.FileTree)
	} else {
		err = s.store.UpdateFileTree(req.ProjectID, req.FileTree)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metricTreeUpdates.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleEditFile applies a single-file edit through the project session.
func (s *Server) handleEditFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"projectId"`
		Path      string `json:"path"`
		Contents  string `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, derrors.Wrap(err, derrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	if _, err := s.requireMember(r, req.ProjectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	identity, _ := identityFromContext(r.Context())
	session, err := s.sessions.Open(r.Context(), req.ProjectID, identity.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := session.EditFile(req.Path, req.Contents); err != nil {
		s.writeError(w, r, err)
		return
	}

	metricTreeUpdates.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleRunProject starts or restarts the project's preview.
func (s *Server) handleRunProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.requireMember(r, projectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	identity, _ := identityFromContext(r.Context())
	session, err := s.sessions.Open(r.Context(), projectID, identity.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The preview must outlive this request.
	if err := session.Run(context.WithoutCancel(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}

	metricRunStarts.Inc()
	state, url := session.State()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"runState": string(state),
		"url":      url,
	})
}
