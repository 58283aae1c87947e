package browser

import "strings"

// DefaultRefPrefix marks a selector as a snapshot ref ("@e3").
const DefaultRefPrefix = "@"

// RefData identifies one element from a snapshot by role and accessible name.
// Nth disambiguates elements sharing both.
type RefData struct {
	Role string `json:"role"`
	Name string `json:"name"`
	Nth  *int   `json:"nth,omitempty"`
}

// ParseRef strips prefix from selector. ok is false when selector is not a ref.
func ParseRef(selector, prefix string) (key string, ok bool) {
	if prefix == "" || !strings.HasPrefix(selector, prefix) {
		return "", false
	}
	return strings.TrimPrefix(selector, prefix), true
}

func copyRefs(refs map[string]RefData) map[string]RefData {
	out := make(map[string]RefData, len(refs))
	for k, v := range refs {
		if v.Nth != nil {
			n := *v.Nth
			v.Nth = &n
		}
		out[k] = v
	}
	return out
}
