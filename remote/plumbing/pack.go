package plumbing

import (
	"fmt"

	gogit "github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ReferencedObjects returns the ids an object *directly* depends on, per
// spec.md §4.1's referenced_objects(): for a commit, its tree followed by
// its parents; for a tree, its direct entries (blobs and subtrees,
// unexpanded); for a tag, the tagged object; for a blob, none.
//
// Every id is read straight off obj's own parsed fields (TreeHash,
// ParentHashes, tree entries, tag target) — never by loading the child
// object itself. During a fetch, a decoded parent's dependencies are not
// yet present in the local object store, so resolving them (e.g. via
// go-git's Commit.Tree()/Parents(), which fetch the child object) would
// fail with ErrObjectNotFound; reading the parent's own already-decoded
// fields needs nothing but the parent.
//
// This order is also the order DepKeys are written into an EncodedObject's
// frame, so encode and decode stay in lock-step (spec.md §3).
func ReferencedObjects(obj object.Object) ([]gogit.Hash, error) {
	switch o := obj.(type) {
	case *object.Commit:
		hashes := make([]gogit.Hash, 0, 1+len(o.ParentHashes))
		hashes = append(hashes, o.TreeHash)
		hashes = append(hashes, o.ParentHashes...)
		return hashes, nil

	case *object.Tree:
		hashes := make([]gogit.Hash, 0, len(o.Entries))
		for _, entry := range o.Entries {
			hashes = append(hashes, entry.Hash)
		}
		return hashes, nil

	case *object.Blob:
		return nil, nil

	case *object.Tag:
		return []gogit.Hash{o.Target}, nil

	default:
		return nil, fmt.Errorf("unsupported object type")
	}
}
