package record

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Business field names as they appear in documents, diffs and patches.
const (
	FieldPrefLabelBo = "prefLabel_bo"
	FieldAltLabelBo  = "altLabel_bo"
	FieldAuthor      = "author"
	FieldVersions    = "versions"
	FieldDBScore     = "db_score"
	FieldDates       = "dates"

	// ExtraPrefix addresses extension keys in diffs and patches.
	ExtraPrefix = "extra."
)

var typeFields = map[Type][]string{
	TypeWork:   {FieldPrefLabelBo, FieldAltLabelBo, FieldAuthor, FieldVersions, FieldDBScore},
	TypePerson: {FieldPrefLabelBo, FieldAltLabelBo, FieldDates},
}

// Fields is the business payload of a record. Every field is source-owned.
// Extra carries fields outside the fixed schema, such as outline segments.
type Fields struct {
	PrefLabelBo string         `json:"prefLabel_bo,omitempty" yaml:"prefLabel_bo,omitempty"`
	AltLabelBo  []string       `json:"altLabel_bo,omitempty" yaml:"altLabel_bo,omitempty"`
	Author      string         `json:"author,omitempty" yaml:"author,omitempty"`
	Versions    []string       `json:"versions,omitempty" yaml:"versions,omitempty"`
	DBScore     *float64       `json:"db_score,omitempty" yaml:"db_score,omitempty"`
	Dates       string         `json:"dates,omitempty" yaml:"dates,omitempty"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// FieldAllowed reports whether name is a settable business field for t.
// Extension keys ("extra.<key>") are allowed for every type.
func FieldAllowed(t Type, name string) bool {
	if key, ok := strings.CutPrefix(name, ExtraPrefix); ok {
		return key != ""
	}
	return slices.Contains(typeFields[t], name)
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	c := f
	c.AltLabelBo = slices.Clone(f.AltLabelBo)
	c.Versions = slices.Clone(f.Versions)
	if f.DBScore != nil {
		s := *f.DBScore
		c.DBScore = &s
	}
	if f.Extra != nil {
		c.Extra = deepCopyMap(f.Extra)
	}
	return c
}

// Flatten returns the non-empty fields keyed by their diff name.
func (f Fields) Flatten() map[string]any {
	out := make(map[string]any)
	if f.PrefLabelBo != "" {
		out[FieldPrefLabelBo] = f.PrefLabelBo
	}
	if len(f.AltLabelBo) > 0 {
		out[FieldAltLabelBo] = slices.Clone(f.AltLabelBo)
	}
	if f.Author != "" {
		out[FieldAuthor] = f.Author
	}
	if len(f.Versions) > 0 {
		out[FieldVersions] = slices.Clone(f.Versions)
	}
	if f.DBScore != nil {
		out[FieldDBScore] = *f.DBScore
	}
	if f.Dates != "" {
		out[FieldDates] = f.Dates
	}
	for k, v := range f.Extra {
		out[ExtraPrefix+k] = v
	}
	return out
}

// Document returns the nested JSON-shaped form used for schema validation.
func (f Fields) Document() map[string]any {
	doc := make(map[string]any)
	for k, v := range f.Flatten() {
		if key, ok := strings.CutPrefix(k, ExtraPrefix); ok {
			extra, _ := doc["extra"].(map[string]any)
			if extra == nil {
				extra = make(map[string]any)
				doc["extra"] = extra
			}
			extra[key] = v
			continue
		}
		doc[k] = v
	}
	return doc
}

// Equal reports whether two field sets hold the same values.
func (f Fields) Equal(other Fields) bool {
	return reflect.DeepEqual(f.Flatten(), other.Flatten())
}

// Set assigns one field by name. A nil value clears the field.
// Values may come from JSON or YAML decoding, so slices arrive as []any
// and numbers as int or float64.
func (f *Fields) Set(name string, value any) error {
	if key, ok := strings.CutPrefix(name, ExtraPrefix); ok {
		if key == "" {
			return fmt.Errorf("empty extension key")
		}
		if value == nil {
			delete(f.Extra, key)
			if len(f.Extra) == 0 {
				f.Extra = nil
			}
			return nil
		}
		v, err := normalizeJSONValue(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if f.Extra == nil {
			f.Extra = make(map[string]any)
		}
		f.Extra[key] = v
		return nil
	}

	var err error
	switch name {
	case FieldPrefLabelBo:
		f.PrefLabelBo, err = asString(value)
	case FieldAuthor:
		f.Author, err = asString(value)
	case FieldDates:
		f.Dates, err = asString(value)
	case FieldAltLabelBo:
		f.AltLabelBo, err = asStrings(value)
	case FieldVersions:
		f.Versions, err = asStrings(value)
	case FieldDBScore:
		f.DBScore, err = asFloat(value)
	default:
		return fmt.Errorf("unknown field %q", name)
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	return nil
}

// Get returns the value of one field by diff name, or nil when unset.
func (f Fields) Get(name string) any {
	return f.Flatten()[name]
}

// Names returns the sorted diff names of all non-empty fields.
func (f Fields) Names() []string {
	return slices.Sorted(maps.Keys(f.Flatten()))
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asStrings(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{s}, nil
	case []string:
		return slices.Clone(s), nil
	case []any:
		out := make([]string, 0, len(s))
		for i, elem := range s {
			str, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %T", i, elem)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", v)
}

func asFloat(v any) (*float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	return &f, nil
}

// normalizeJSONValue round-trips v through JSON so values decoded from YAML,
// JSON or SQLite compare equal.
func normalizeJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = deepCopyValue(elem)
		}
		return out
	default:
		return val
	}
}
