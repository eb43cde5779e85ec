package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	derrors "github.com/devmate/devmate/pkg/errors"
)

// User is a registered account. PasswordHash never crosses the API boundary;
// handlers copy the public fields into their own response shapes.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateUser inserts a new user and assigns its id. Emails are stored
// lowercased so lookups are case-insensitive.
func (s *Store) CreateUser(u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return derrors.New(derrors.ErrCodeInvalidInput, "email already registered").
				WithContext("email", u.Email)
		}
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "create user")
	}
	return nil
}

// GetUserByEmail looks a user up by email, case-insensitively.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	return s.getUser("email = ?", strings.ToLower(strings.TrimSpace(email)))
}

// GetUserByID looks a user up by id.
func (s *Store) GetUserByID(id string) (*User, error) {
	return s.getUser("id = ?", id)
}

func (s *Store) getUser(where string, arg any) (*User, error) {
	var u User
	err := s.db.QueryRow(
		"SELECT id, email, name, password_hash, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, derrors.New(derrors.ErrCodeNotFound, "user not found")
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "get user")
	}
	return &u, nil
}

// ListUsersExcept returns all users other than the given one, for the
// add-collaborator picker. The seeded assistant account is never listed.
func (s *Store) ListUsersExcept(excludeID string) ([]User, error) {
	rows, err := s.db.Query(
		"SELECT id, email, name, password_hash, created_at FROM users WHERE id != ? AND id != ? ORDER BY email",
		excludeID, aiUserID,
	)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "list users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
