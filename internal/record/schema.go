package record

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// cue.Context is not safe for concurrent use; sync workers validate in parallel.
var schema struct {
	once sync.Once
	mu   sync.Mutex
	ctx  *cue.Context
	val  cue.Value
	err  error
}

func loadSchema() error {
	schema.once.Do(func() {
		schema.ctx = cuecontext.New()
		schema.val = schema.ctx.CompileString(schemaCUE)
		if err := schema.val.Err(); err != nil {
			schema.err = fmt.Errorf("compile candidate schema: %w", err)
		}
	})
	return schema.err
}

func schemaDefinition(t Type) string {
	if t == TypePerson {
		return "#Person"
	}
	return "#Work"
}

// ValidateFields checks a field set against the CUE schema for t.
func ValidateFields(t Type, f Fields) error {
	if err := loadSchema(); err != nil {
		return err
	}
	schema.mu.Lock()
	defer schema.mu.Unlock()

	def := schema.val.LookupPath(cue.ParsePath(schemaDefinition(t)))
	if !def.Exists() {
		return fmt.Errorf("no schema for record type %q", t)
	}
	doc := schema.ctx.Encode(f.Document())
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}
