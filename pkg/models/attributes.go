package models

import "sort"

// Well-known attribute names. Get and Set route these to the typed fields of
// Attributes; every other name lives in Extra.
const (
	AttrLastMatcher = "mailflow.last-matcher"
	AttrOnError     = "mailflow.on-error"
	AttrByteCount   = "mailflow.byte-count"
)

// Attributes carries side information between matchers and mailets.
// Nothing clears it between rules; the ClearAttributes mailet does so by
// convention at processor boundaries.
type Attributes struct {
	// LastMatcher is the name of the matcher that most recently matched.
	LastMatcher string `json:"last_matcher,omitempty"`
	// OnErrorOverride replaces the rule's error policy when set.
	OnErrorOverride string `json:"on_error,omitempty"`
	ByteCount       int64  `json:"byte_count,omitempty"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

func (a *Attributes) Get(name string) (interface{}, bool) {
	switch name {
	case AttrLastMatcher:
		return a.LastMatcher, a.LastMatcher != ""
	case AttrOnError:
		return a.OnErrorOverride, a.OnErrorOverride != ""
	case AttrByteCount:
		return a.ByteCount, a.ByteCount != 0
	}

	if a.Extra == nil {
		return nil, false
	}
	value, ok := a.Extra[name]
	return value, ok
}

func (a *Attributes) Set(name string, value interface{}) {
	switch name {
	case AttrLastMatcher:
		a.LastMatcher, _ = value.(string)
		return
	case AttrOnError:
		a.OnErrorOverride, _ = value.(string)
		return
	case AttrByteCount:
		a.ByteCount = toInt64(value)
		return
	}

	if a.Extra == nil {
		a.Extra = make(map[string]interface{})
	}
	a.Extra[name] = value
}

func (a *Attributes) Delete(name string) {
	switch name {
	case AttrLastMatcher:
		a.LastMatcher = ""
	case AttrOnError:
		a.OnErrorOverride = ""
	case AttrByteCount:
		a.ByteCount = 0
	default:
		delete(a.Extra, name)
	}
}

func (a *Attributes) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Names returns the set attribute names in sorted order.
func (a *Attributes) Names() []string {
	names := make([]string, 0, len(a.Extra)+3)
	for _, n := range []string{AttrLastMatcher, AttrOnError, AttrByteCount} {
		if a.Has(n) {
			names = append(names, n)
		}
	}
	for n := range a.Extra {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *Attributes) Clear() {
	*a = Attributes{}
}

// Clone copies the attribute bag. Extra values are copied shallowly.
func (a Attributes) Clone() Attributes {
	out := a
	if a.Extra != nil {
		out.Extra = make(map[string]interface{}, len(a.Extra))
		for k, v := range a.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (a *Attributes) AsMap() map[string]interface{} {
	out := make(map[string]interface{}, len(a.Extra)+3)
	for _, n := range a.Names() {
		out[n], _ = a.Get(n)
	}
	return out
}

func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
