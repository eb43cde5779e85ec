// Package filetree holds the canonical in-memory representation of a
// project's files. The flat slash-keyed form is authoritative and persisted;
// the nested form is a derived projection used only for sandbox mounting.
package filetree

import (
	"sort"
	"strings"

	"github.com/devmate/devmate/pkg/errors"
)

// FileContent is the leaf payload of a file node.
type FileContent struct {
	Contents string `json:"contents"`
}

// Entry wraps a file in the wire shape used by storage and AI payloads:
// {"file": {"contents": "..."}}.
type Entry struct {
	File FileContent `json:"file"`
}

// Flat maps full slash-joined paths to files. Canonical, persisted form.
type Flat map[string]Entry

// Node is one level of the normalized projection: either a file leaf or a
// directory of further nodes, never both.
type Node struct {
	File      *FileContent `json:"file,omitempty"`
	Directory Nested       `json:"directory,omitempty"`
}

// Nested maps a single path segment to its node.
type Nested map[string]Node

// SetFile returns a copy of tree with path replaced or inserted.
// No other key is touched.
func SetFile(tree Flat, path, contents string) Flat {
	out := make(Flat, len(tree)+1)
	for k, v := range tree {
		out[k] = v
	}
	out[path] = Entry{File: FileContent{Contents: contents}}
	return out
}

// MergeFragment returns a copy of tree overwritten key-wise by fragment.
// Last writer per path wins; an empty fragment is identity.
func MergeFragment(tree, fragment Flat) Flat {
	out := make(Flat, len(tree)+len(fragment))
	for k, v := range tree {
		out[k] = v
	}
	for k, v := range fragment {
		out[k] = v
	}
	return out
}

// Get returns the file at path.
func Get(tree Flat, path string) (FileContent, error) {
	entry, ok := tree[path]
	if !ok {
		return FileContent{}, errors.New(errors.ErrCodeFileNotFound, "no file at path").WithContext("path", path)
	}
	return entry.File, nil
}

// Normalize derives the nested projection from the flat tree. It is total:
// every key splits on '/', intermediate directory nodes are created on
// demand, and a name previously seen as a leaf is coerced into a directory
// when a deeper path addresses it (last write wins). Trees accepted through
// Validate can never hit the coercion case.
func Normalize(tree Flat) Nested {
	out := make(Nested, len(tree))

	// Deterministic iteration so the coercion fallback is reproducible.
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := tree[path]
		if !strings.Contains(path, "/") {
			out[path] = Node{File: &FileContent{Contents: entry.File.Contents}}
			continue
		}

		segments := strings.Split(path, "/")
		level := out
		for _, segment := range segments[:len(segments)-1] {
			node, ok := level[segment]
			if !ok || node.Directory == nil {
				node = Node{Directory: make(Nested)}
				level[segment] = node
			}
			level = node.Directory
		}
		name := segments[len(segments)-1]
		level[name] = Node{File: &FileContent{Contents: entry.File.Contents}}
	}

	return out
}

// Validate rejects trees that cannot round-trip through Normalize without
// shape coercion: empty paths, absolute paths, empty or dot segments, and
// keys that are both a leaf and a directory prefix of another key.
func Validate(tree Flat) error {
	prefixes := make(map[string]bool)

	for path := range tree {
		if path == "" {
			return errors.New(errors.ErrCodeInvalidPath, "empty path")
		}
		if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
			return errors.New(errors.ErrCodeInvalidPath, "path must be relative with no trailing slash").WithContext("path", path)
		}
		segments := strings.Split(path, "/")
		for _, segment := range segments {
			if segment == "" {
				return errors.New(errors.ErrCodeInvalidPath, "empty path segment").WithContext("path", path)
			}
			if segment == "." || segment == ".." {
				return errors.New(errors.ErrCodeInvalidPath, "dot segments not allowed").WithContext("path", path)
			}
		}
		for i := 1; i < len(segments); i++ {
			prefixes[strings.Join(segments[:i], "/")] = true
		}
	}

	for path := range tree {
		if prefixes[path] {
			return errors.New(errors.ErrCodePathConflict, "path is both a file and a directory").WithContext("path", path)
		}
	}

	return nil
}

// HasManifest reports whether the tree contains a package manifest,
// selecting the install-and-start execution strategy.
func HasManifest(tree Flat) bool {
	_, ok := tree["package.json"]
	return ok
}

// HasMarkup reports whether any file looks like an HTML page, selecting the
// static-server execution strategy.
func HasMarkup(tree Flat) bool {
	for path := range tree {
		lower := strings.ToLower(path)
		if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
			return true
		}
	}
	return false
}

// Paths returns the sorted set of keys, for stable listings.
func Paths(tree Flat) []string {
	out := make([]string, 0, len(tree))
	for p := range tree {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
