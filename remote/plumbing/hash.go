package plumbing

import "github.com/go-git/go-git/v5/plumbing"

// IsZeroHash checks whether a given git object id string is the all-zero
// hash git uses for "no such ref" on the wire protocol (spec.md §4.7's
// `old-oid` in a push deletion line).
func IsZeroHash(h string) bool {
	return h == plumbing.ZeroHash.String()
}
