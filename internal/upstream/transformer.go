package upstream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catsync/internal/record"
)

// Transformer converts one upstream record into a candidate.
//
// A malformed or missing upstream record is an INVALID_CANDIDATE error and
// affects that record only. Any other error means the upstream itself is
// unreadable.
type Transformer interface {
	Transform(ctx context.Context, t record.Type, id string) (record.Candidate, error)
}

// FileTransformer reads candidates from <dir>/<type>/<id>.yaml.
type FileTransformer struct {
	dir string
}

// NewFileTransformer creates a FileTransformer rooted at dir.
func NewFileTransformer(dir string) *FileTransformer {
	return &FileTransformer{dir: dir}
}

// Path returns the file a candidate is read from.
func (f *FileTransformer) Path(t record.Type, id string) string {
	return filepath.Join(f.dir, string(t), id+".yaml")
}

// Transform implements Transformer. The returned candidate is prepared
// (normalized and validated).
func (f *FileTransformer) Transform(ctx context.Context, t record.Type, id string) (record.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return record.Candidate{}, err
	}
	if id == "" || filepath.Base(id) != id {
		return record.Candidate{}, record.NewInvalidCandidate(id, "invalid upstream id")
	}

	path := f.Path(t, id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return record.Candidate{}, record.NewInvalidCandidate(id, "no upstream document at %s", path)
	}
	if err != nil {
		return record.Candidate{}, fmt.Errorf("read candidate %s: %w", path, err)
	}

	var c record.Candidate
	if err := yaml.Unmarshal(data, &c); err != nil {
		return record.Candidate{}, record.NewInvalidCandidate(id, "parse %s: %v", path, err)
	}
	if c.ID == "" {
		c.ID = id
	}
	if c.Type == "" {
		c.Type = t
	}
	if c.ID != id || c.Type != t {
		return record.Candidate{}, record.NewInvalidCandidate(id, "document %s describes %s/%s", path, c.Type, c.ID)
	}
	return c.Prepare()
}
