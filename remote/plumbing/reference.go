package plumbing

import (
	"regexp"
)

var headRefPattern = regexp.MustCompile(`^refs/(heads|tags|notes)((/[a-zA-Z0-9_.-]+)+)?$`)

// IsReference checks that name looks like a full reference path under
// refs/heads, refs/tags or refs/notes. The helper's push handler uses this
// to reject refspecs pointing anywhere else, since spec.md scopes ref state
// to branches, tags and notes only.
func IsReference(name string) bool {
	return headRefPattern.MatchString(name)
}
