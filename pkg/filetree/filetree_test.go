package filetree

import (
	"encoding/json"
	"testing"

	"github.com/devmate/devmate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatOf(pairs map[string]string) Flat {
	out := make(Flat, len(pairs))
	for path, contents := range pairs {
		out[path] = Entry{File: FileContent{Contents: contents}}
	}
	return out
}

func TestSetFileLeavesOtherKeysAlone(t *testing.T) {
	tree := flatOf(map[string]string{"a.txt": "a", "b.txt": "b"})

	updated := SetFile(tree, "a.txt", "a2")

	assert.Equal(t, "a2", updated["a.txt"].File.Contents)
	assert.Equal(t, "b", updated["b.txt"].File.Contents)
	// original untouched
	assert.Equal(t, "a", tree["a.txt"].File.Contents)
}

func TestSetFileInserts(t *testing.T) {
	tree := flatOf(map[string]string{"a.txt": "a"})
	updated := SetFile(tree, "c.txt", "c")

	assert.Len(t, updated, 2)
	assert.Equal(t, "c", updated["c.txt"].File.Contents)
}

func TestMergeFragmentEmptyIsIdentity(t *testing.T) {
	tree := flatOf(map[string]string{"a.txt": "a", "src/b.js": "b"})

	merged := MergeFragment(tree, Flat{})

	assert.Equal(t, tree, merged)
}

func TestMergeFragmentIsIdempotent(t *testing.T) {
	tree := flatOf(map[string]string{"a.txt": "a"})
	fragment := flatOf(map[string]string{"a.txt": "patched", "new.txt": "n"})

	once := MergeFragment(tree, fragment)
	twice := MergeFragment(once, fragment)

	assert.Equal(t, once, twice)
	assert.Equal(t, "patched", once["a.txt"].File.Contents)
	assert.Equal(t, "n", once["new.txt"].File.Contents)
}

func TestNormalizePlacesLeavesAtImpliedPaths(t *testing.T) {
	tree := flatOf(map[string]string{
		"src/index.js": "a",
		"index.html":   "b",
	})

	nested := Normalize(tree)

	require.Contains(t, nested, "src")
	require.NotNil(t, nested["src"].Directory)
	require.Contains(t, nested["src"].Directory, "index.js")
	assert.Equal(t, "a", nested["src"].Directory["index.js"].File.Contents)
	require.NotNil(t, nested["index.html"].File)
	assert.Equal(t, "b", nested["index.html"].File.Contents)
}

func TestNormalizeDeepPaths(t *testing.T) {
	tree := flatOf(map[string]string{"a/b/c.txt": "x"})

	nested := Normalize(tree)

	level := nested["a"].Directory
	require.NotNil(t, level)
	level = level["b"].Directory
	require.NotNil(t, level)
	require.NotNil(t, level["c.txt"].File)
	assert.Equal(t, "x", level["c.txt"].File.Contents)
}

func TestNormalizeCoercesShapeConflictDeterministically(t *testing.T) {
	// "a" is both a leaf and a directory prefix. Validate rejects this, but
	// Normalize stays total: the deeper path wins regardless of map order.
	tree := flatOf(map[string]string{"a": "leaf", "a/b.txt": "deep"})

	nested := Normalize(tree)

	require.NotNil(t, nested["a"].Directory)
	assert.Equal(t, "deep", nested["a"].Directory["b.txt"].File.Contents)
}

func TestNormalizeWireShape(t *testing.T) {
	nested := Normalize(flatOf(map[string]string{"src/index.js": "a", "index.html": "b"}))

	data, err := json.Marshal(nested)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"src": {"directory": {"index.js": {"file": {"contents": "a"}}}},
		"index.html": {"file": {"contents": "b"}}
	}`, string(data))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tree    Flat
		wantErr errors.ErrorCode
	}{
		{"ok flat", flatOf(map[string]string{"a.txt": "a", "src/b.js": "b"}), ""},
		{"empty path", flatOf(map[string]string{"": "x"}), errors.ErrCodeInvalidPath},
		{"absolute path", flatOf(map[string]string{"/etc/passwd": "x"}), errors.ErrCodeInvalidPath},
		{"trailing slash", flatOf(map[string]string{"src/": "x"}), errors.ErrCodeInvalidPath},
		{"empty segment", flatOf(map[string]string{"a//b.txt": "x"}), errors.ErrCodeInvalidPath},
		{"dot dot segment", flatOf(map[string]string{"../escape.txt": "x"}), errors.ErrCodeInvalidPath},
		{"leaf directory conflict", flatOf(map[string]string{"a": "leaf", "a/b.txt": "deep"}), errors.ErrCodePathConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tree)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestGet(t *testing.T) {
	tree := flatOf(map[string]string{"a.txt": "hello"})

	file, err := Get(tree, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", file.Contents)

	_, err = Get(tree, "missing.txt")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFileNotFound))
}

func TestProjectKindDetection(t *testing.T) {
	assert.True(t, HasManifest(flatOf(map[string]string{"package.json": "{}"})))
	assert.False(t, HasManifest(flatOf(map[string]string{"src/package.json": "{}"})))
	assert.True(t, HasMarkup(flatOf(map[string]string{"Index.HTML": "<html>"})))
	assert.True(t, HasMarkup(flatOf(map[string]string{"page.htm": "<html>"})))
	assert.False(t, HasMarkup(flatOf(map[string]string{"main.js": "x"})))
}

func TestScaffoldStaticServer(t *testing.T) {
	tree := flatOf(map[string]string{"style.css": "body{}"})

	scaffolded := ScaffoldStaticServer(tree, 3000)

	assert.Contains(t, scaffolded, "server.js")
	assert.Contains(t, scaffolded["server.js"].File.Contents, "3000")
	// no markup present, default page added
	assert.Contains(t, scaffolded, "index.html")
	// original untouched
	assert.NotContains(t, tree, "server.js")

	withMarkup := ScaffoldStaticServer(flatOf(map[string]string{"home.html": "<html>"}), 3000)
	assert.NotContains(t, withMarkup, "index.html")
}

func TestPaths(t *testing.T) {
	tree := flatOf(map[string]string{"b.txt": "b", "a.txt": "a"})
	assert.Equal(t, []string{"a.txt", "b.txt"}, Paths(tree))
}
