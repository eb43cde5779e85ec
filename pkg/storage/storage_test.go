package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/filetree"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestUser(t *testing.T, s *Store, email string) *User {
	t.Helper()
	u := &User{Email: email, Name: "Test", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(u))
	return u
}

func TestMigrationsRecorded(t *testing.T) {
	s := newTestStore(t)
	version, err := s.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)
}

func TestAIParticipantSeeded(t *testing.T) {
	s := newTestStore(t)

	ai, err := s.GetUserByID("ai")
	require.NoError(t, err)
	assert.Equal(t, "ai@devmate.local", ai.Email)
	assert.Empty(t, ai.PasswordHash, "the assistant account must not be able to log in")

	// The assistant never shows up in the collaborator picker.
	alice := createTestUser(t, s, "alice@example.com")
	users, err := s.ListUsersExcept(alice.ID)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)

	u := createTestUser(t, s, "Alice@Example.com")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email, "emails are stored lowercased")

	got, err := s.GetUserByEmail("ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	byID, err := s.GetUserByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, byID.Email)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "alice@example.com")

	err := s.CreateUser(&User{Email: "alice@example.com", PasswordHash: "other"})
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeInvalidInput, derrors.GetCode(err))
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUserByEmail("ghost@example.com")
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeNotFound, derrors.GetCode(err))
}

func TestListUsersExcept(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	createTestUser(t, s, "bob@example.com")
	createTestUser(t, s, "carol@example.com")

	users, err := s.ListUsersExcept(alice.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob@example.com", users[0].Email)
	assert.Equal(t, "carol@example.com", users[1].Email)
}

func TestCreateProjectAddsOwnerAsMember(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")

	p := &Project{Name: "workspace", OwnerID: alice.ID}
	require.NoError(t, s.CreateProject(p))
	assert.NotEmpty(t, p.ID)

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	require.Len(t, got.Users, 1)
	assert.Equal(t, alice.ID, got.Users[0].ID)
	assert.NotNil(t, got.FileTree)
	assert.Empty(t, got.FileTree)

	member, err := s.IsMember(p.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, member)
}

func TestCreateProjectRequiresName(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")

	err := s.CreateProject(&Project{Name: "   ", OwnerID: alice.ID})
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeInvalidInput, derrors.GetCode(err))
}

func TestCreateProjectDuplicateName(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")

	require.NoError(t, s.CreateProject(&Project{Name: "workspace", OwnerID: alice.ID}))
	err := s.CreateProject(&Project{Name: "workspace", OwnerID: alice.ID})
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeInvalidInput, derrors.GetCode(err))
}

func TestAddCollaboratorsIdempotent(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	p := &Project{Name: "workspace", OwnerID: alice.ID}
	require.NoError(t, s.CreateProject(p))

	require.NoError(t, s.AddCollaborators(p.ID, []string{bob.ID}))
	require.NoError(t, s.AddCollaborators(p.ID, []string{bob.ID, alice.ID}))

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Users, 2)
}

func TestAddCollaboratorsUnknownUser(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	p := &Project{Name: "workspace", OwnerID: alice.ID}
	require.NoError(t, s.CreateProject(p))

	err := s.AddCollaborators(p.ID, []string{"nope"})
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeNotFound, derrors.GetCode(err))

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Users, 1, "failed add must not leave partial members")
}

func TestListProjectsForUser(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	mine := &Project{Name: "mine", OwnerID: alice.ID}
	require.NoError(t, s.CreateProject(mine))
	shared := &Project{Name: "shared", OwnerID: bob.ID}
	require.NoError(t, s.CreateProject(shared))
	require.NoError(t, s.AddCollaborators(shared.ID, []string{alice.ID}))
	require.NoError(t, s.CreateProject(&Project{Name: "private", OwnerID: bob.ID}))

	projects, err := s.ListProjectsForUser(alice.ID)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	names := []string{projects[0].Name, projects[1].Name}
	assert.ElementsMatch(t, []string{"mine", "shared"}, names)
}

func TestUpdateFileTreeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	p := &Project{Name: "workspace", OwnerID: alice.ID}
	require.NoError(t, s.CreateProject(p))

	tree := filetree.Flat{
		"src/index.js": {File: filetree.FileContent{Contents: "console.log(1)"}},
		"package.json": {File: filetree.FileContent{Contents: "{}"}},
	}
	require.NoError(t, s.UpdateFileTree(p.ID, tree))

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, tree, got.FileTree)

	err = s.UpdateFileTree("missing", tree)
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeNotFound, derrors.GetCode(err))
}

func TestSaveAndListMessages(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	p := &Project{Name: "workspace", OwnerID: alice.ID}
	require.NoError(t, s.CreateProject(p))

	first := &ChatMessage{ProjectID: p.ID, SenderID: alice.ID, SenderEmail: alice.Email, Body: "hello"}
	require.NoError(t, s.SaveMessage(first))
	assert.NotZero(t, first.ID)

	// AI reply carries no sender.
	require.NoError(t, s.SaveMessage(&ChatMessage{ProjectID: p.ID, Body: `{"text":"done"}`}))

	msgs, err := s.ListMessages(p.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Empty(t, msgs[1].SenderID)

	limited, err := s.ListMessages(p.ID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "hello", limited[0].Body)
}
