package record

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Normalized returns a copy with every string in NFC form and extension
// values reduced to their JSON shapes. Upstream Tibetan text arrives in mixed
// normalization forms; without this a re-import of identical text would look
// like a change.
func (f Fields) Normalized() (Fields, error) {
	out := f.Clone()
	out.PrefLabelBo = norm.NFC.String(out.PrefLabelBo)
	out.Author = norm.NFC.String(out.Author)
	out.Dates = norm.NFC.String(out.Dates)
	for i, s := range out.AltLabelBo {
		out.AltLabelBo[i] = norm.NFC.String(s)
	}
	for i, s := range out.Versions {
		out.Versions[i] = norm.NFC.String(s)
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
		return out, nil
	}
	for k, v := range out.Extra {
		jv, err := normalizeJSONValue(v)
		if err != nil {
			return Fields{}, fmt.Errorf("extra.%s: %w", k, err)
		}
		out.Extra[k] = nfcValue(jv)
	}
	return out, nil
}

func nfcValue(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case []any:
		for i, elem := range val {
			val[i] = nfcValue(elem)
		}
		return val
	case map[string]any:
		for k, elem := range val {
			val[k] = nfcValue(elem)
		}
		return val
	default:
		return val
	}
}
