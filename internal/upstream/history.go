package upstream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catsync/internal/record"
)

// ErrUnknownCursor is returned by History when a cursor is not part of the log.
var ErrUnknownCursor = errors.New("unknown upstream cursor")

// History is the upstream revision log.
type History interface {
	// Head returns the newest cursor, or "" if the log is empty.
	Head(ctx context.Context) (string, error)
	// Contains reports whether cursor is part of the log.
	Contains(ctx context.Context, cursor string) (bool, error)
	// ChangedBetween returns the ids of type t changed in revisions strictly
	// after from up to and including to.
	ChangedBetween(ctx context.Context, t record.Type, from, to string) ([]string, error)
	// AllIDs returns every id of type t known to the log.
	AllIDs(ctx context.Context, t record.Type) ([]string, error)
}

// Revision is one entry of the revision log.
type Revision struct {
	Cursor  string                   `yaml:"cursor"`
	At      time.Time                `yaml:"at,omitempty"`
	Changes map[record.Type][]string `yaml:"changes"`
}

type historyFile struct {
	Revisions []Revision `yaml:"revisions"`
}

// FileHistory reads a YAML revision log, oldest revision first:
//
//	revisions:
//	  - cursor: 3f2a9c1
//	    at: 2024-05-01T10:00:00Z
//	    changes:
//	      work: [W00001, W00002]
//	      person: [P00001]
//
// The file is re-read on every call so a watcher can pick up appended
// revisions without restarting.
type FileHistory struct {
	path string
}

// NewFileHistory creates a FileHistory over path.
func NewFileHistory(path string) *FileHistory {
	return &FileHistory{path: path}
}

// Path returns the log file path.
func (h *FileHistory) Path() string {
	return h.path
}

func (h *FileHistory) load() ([]Revision, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", h.path, err)
	}
	var f historyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", h.path, err)
	}
	seen := make(map[string]bool, len(f.Revisions))
	for i, rev := range f.Revisions {
		if rev.Cursor == "" {
			return nil, fmt.Errorf("parse history %s: revision %d has no cursor", h.path, i)
		}
		if seen[rev.Cursor] {
			return nil, fmt.Errorf("parse history %s: duplicate cursor %q", h.path, rev.Cursor)
		}
		seen[rev.Cursor] = true
	}
	return f.Revisions, nil
}

// AppendRevision appends rev to the log file at path, creating it when
// missing. The cursor must be new.
func AppendRevision(path string, rev Revision) error {
	h := NewFileHistory(path)
	revs, err := h.load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if rev.Cursor == "" {
		return fmt.Errorf("append revision: empty cursor")
	}
	for _, r := range revs {
		if r.Cursor == rev.Cursor {
			return fmt.Errorf("append revision: duplicate cursor %q", rev.Cursor)
		}
	}
	data, err := yaml.Marshal(historyFile{Revisions: append(revs, rev)})
	if err != nil {
		return fmt.Errorf("append revision: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("append revision: %w", err)
	}
	return nil
}

// Head implements History.
func (h *FileHistory) Head(ctx context.Context) (string, error) {
	revs, err := h.load()
	if err != nil {
		return "", err
	}
	if len(revs) == 0 {
		return "", nil
	}
	return revs[len(revs)-1].Cursor, nil
}

// Contains implements History.
func (h *FileHistory) Contains(ctx context.Context, cursor string) (bool, error) {
	revs, err := h.load()
	if err != nil {
		return false, err
	}
	return indexOf(revs, cursor) >= 0, nil
}

// ChangedBetween implements History.
func (h *FileHistory) ChangedBetween(ctx context.Context, t record.Type, from, to string) ([]string, error) {
	revs, err := h.load()
	if err != nil {
		return nil, err
	}
	start := indexOf(revs, from)
	if start < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCursor, from)
	}
	end := indexOf(revs, to)
	if end < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCursor, to)
	}
	if end < start {
		return nil, fmt.Errorf("cursor %q precedes %q", to, from)
	}
	return collect(revs[start+1:end+1], t), nil
}

// AllIDs implements History.
func (h *FileHistory) AllIDs(ctx context.Context, t record.Type) ([]string, error) {
	revs, err := h.load()
	if err != nil {
		return nil, err
	}
	return collect(revs, t), nil
}

func indexOf(revs []Revision, cursor string) int {
	return slices.IndexFunc(revs, func(r Revision) bool { return r.Cursor == cursor })
}

// collect returns the sorted, deduplicated ids of type t in revs.
func collect(revs []Revision, t record.Type) []string {
	set := make(map[string]struct{})
	for _, rev := range revs {
		for _, id := range rev.Changes[t] {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
