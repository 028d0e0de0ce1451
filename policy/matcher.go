package policy

import "strings"

// match reports whether r matches path and returns the length of the matched
// portion, used to break ties among rules of the same kind.
func (r *rule) match(path string) (matched bool, length int) {
	switch r.kind {
	case kindExact:
		if path == r.pattern {
			return true, len(r.pattern)
		}
	case kindPrefix:
		if strings.HasPrefix(path, r.pattern) {
			return true, len(r.pattern)
		}
	case kindRegex:
		if loc := r.re.FindStringIndex(path); loc != nil {
			return true, loc[1] - loc[0]
		}
	}
	return false, 0
}
