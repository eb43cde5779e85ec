package storage

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/filetree"
)

// Project is a collaborative workspace: a named file tree shared by its
// member users.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	OwnerID   string        `json:"ownerId"`
	Users     []User        `json:"users,omitempty"`
	FileTree  filetree.Flat `json:"fileTree"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// CreateProject inserts a project with the creator as its first member.
func (s *Store) CreateProject(p *Project) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return derrors.New(derrors.ErrCodeInvalidInput, "project name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.FileTree == nil {
		p.FileTree = filetree.Flat{}
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	treeJSON, err := json.Marshal(p.FileTree)
	if err != nil {
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "encode file tree")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "begin create project")
	}

	_, err = tx.Exec(
		"INSERT INTO projects (id, name, owner_id, file_tree, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.OwnerID, string(treeJSON), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return derrors.New(derrors.ErrCodeInvalidInput, "project name already taken").
				WithContext("name", p.Name)
		}
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "create project")
	}

	if _, err := tx.Exec(
		"INSERT INTO project_users (project_id, user_id) VALUES (?, ?)",
		p.ID, p.OwnerID,
	); err != nil {
		_ = tx.Rollback()
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "add project owner")
	}

	return tx.Commit()
}

// GetProject returns a project with its member users populated.
func (s *Store) GetProject(id string) (*Project, error) {
	var p Project
	var treeJSON string
	err := s.db.QueryRow(
		"SELECT id, name, owner_id, file_tree, created_at, updated_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &treeJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, derrors.New(derrors.ErrCodeNotFound, "project not found").WithContext("project", id)
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "get project")
	}

	if err := json.Unmarshal([]byte(treeJSON), &p.FileTree); err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "decode file tree").
			WithContext("project", id)
	}

	users, err := s.projectMembers(id)
	if err != nil {
		return nil, err
	}
	p.Users = users
	return &p, nil
}

func (s *Store) projectMembers(projectID string) ([]User, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.email, u.name, u.password_hash, u.created_at
		FROM users u
		JOIN project_users pu ON pu.user_id = u.id
		WHERE pu.project_id = ?
		ORDER BY pu.added_at, u.email`, projectID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "list project members")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "scan member")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListProjectsForUser returns every project the user is a member of.
func (s *Store) ListProjectsForUser(userID string) ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT p.id, p.name, p.owner_id, p.file_tree, p.created_at, p.updated_at
		FROM projects p
		JOIN project_users pu ON pu.project_id = p.id
		WHERE pu.user_id = ?
		ORDER BY p.created_at DESC`, userID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "list projects")
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var treeJSON string
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &treeJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "scan project")
		}
		if err := json.Unmarshal([]byte(treeJSON), &p.FileTree); err != nil {
			return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "decode file tree").
				WithContext("project", p.ID)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// AddCollaborators adds users to a project. Already-present members are
// skipped, so re-adding is a no-op rather than an error.
func (s *Store) AddCollaborators(projectID string, userIDs []string) error {
	if _, err := s.GetProject(projectID); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "begin add collaborators")
	}

	for _, uid := range userIDs {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(1) FROM users WHERE id = ?", uid).Scan(&exists); err != nil {
			_ = tx.Rollback()
			return derrors.Wrap(err, derrors.ErrCodeStorageRead, "check user")
		}
		if exists == 0 {
			_ = tx.Rollback()
			return derrors.New(derrors.ErrCodeNotFound, "user not found").WithContext("user", uid)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO project_users (project_id, user_id) VALUES (?, ?)",
			projectID, uid,
		); err != nil {
			_ = tx.Rollback()
			return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "add collaborator")
		}
	}

	return tx.Commit()
}

// IsMember reports whether the user belongs to the project.
func (s *Store) IsMember(projectID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM project_users WHERE project_id = ? AND user_id = ?",
		projectID, userID,
	).Scan(&n)
	if err != nil {
		return false, derrors.Wrap(err, derrors.ErrCodeStorageRead, "check membership")
	}
	return n > 0, nil
}

// UpdateFileTree replaces the project's persisted file tree wholesale.
func (s *Store) UpdateFileTree(projectID string, tree filetree.Flat) error {
	if tree == nil {
		tree = filetree.Flat{}
	}
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "encode file tree")
	}

	res, err := s.db.Exec(
		"UPDATE projects SET file_tree = ?, updated_at = ? WHERE id = ?",
		string(treeJSON), time.Now().UTC(), projectID,
	)
	if err != nil {
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "update file tree")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return derrors.New(derrors.ErrCodeNotFound, "project not found").WithContext("project", projectID)
	}
	return nil
}
