package facts

import (
	"sort"
	"strings"
)

// MissToken is the model's answer when a fact is not present
const MissToken = "None"

// Fact keys
const (
	KeyName          = "name"
	KeyPhone         = "phone"
	KeyHSCMarks      = "hsc_marks"
	KeyJEEPercentile = "jee_percentile"
)

// Facts maps fact keys to extracted values
type Facts map[string]string

// IsMiss reports whether v carries no information: blank or the miss token,
// compared case-insensitively
func IsMiss(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, MissToken)
}

// Merge overlays extracted onto prior with last-write-wins per field. Miss
// values never overwrite. prior is not modified. changed reports whether any
// field differs from prior.
func Merge(prior, extracted Facts) (merged Facts, changed bool) {
	merged = make(Facts, len(prior)+len(extracted))
	for k, v := range prior {
		merged[k] = v
	}

	for k, v := range extracted {
		if IsMiss(v) {
			continue
		}
		v = strings.TrimSpace(v)
		if old, ok := merged[k]; !ok || old != v {
			merged[k] = v
			changed = true
		}
	}

	return merged, changed
}

// Clean returns a copy of f without miss values
func (f Facts) Clean() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		if !IsMiss(v) {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

// Keys returns the fact keys in sorted order
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders facts as "key: value" pairs in key order
func (f Facts) String() string {
	parts := make([]string, 0, len(f))
	for _, k := range f.Keys() {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, ", ")
}
