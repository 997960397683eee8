package plumbing

import (
	"github.com/pkg/errors"

	gogit "github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitRepo is the minimal read-only surface the traversal algorithms in this
// package need from a local repository. remote/gitexec's adapter satisfies
// it; keeping the interface here (rather than importing remote/gitexec)
// keeps plumbing's graph-walking code repo-implementation agnostic, the
// way the teacher's traverse.go is parametrized over a LocalRepo interface
// rather than a concrete repository type.
type GitRepo interface {
	GetObject(hash string) (object.Object, error)
	IsAncestor(ancestor, descendant string) error
}

// walkTreeContents returns every blob and subtree hash reachable from
// tree, recursing into subtrees — the full content of a tree, as opposed
// to ReferencedObjects' direct-entries-only view. list_objects (unlike
// referenced_objects) must enumerate everything a push needs to upload,
// so it loads each subtree in turn, which is safe here since list_objects
// only ever walks objects already present in the local repository.
func walkTreeContents(repo GitRepo, tree *object.Tree) ([]string, error) {
	var out []string
	for _, entry := range tree.Entries {
		out = append(out, entry.Hash.String())
		if entry.Mode != filemode.Dir {
			continue
		}
		sub, err := repo.GetObject(entry.Hash.String())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load subtree %s", entry.Hash)
		}
		subTree, ok := sub.(*object.Tree)
		if !ok {
			return nil, errors.Errorf("object %s is not a tree", entry.Hash)
		}
		subHashes, err := walkTreeContents(repo, subTree)
		if err != nil {
			return nil, err
		}
		out = append(out, subHashes...)
	}
	return out, nil
}

// walkTagTarget emits whatever a tag (or chain of nested tags) ultimately
// points at, delegating to walkCommit for a commit target so parents/trees
// are enumerated the same way a direct commit tip would be.
func walkTagTarget(repo GitRepo, target gogit.Hash, targetType gogit.ObjectType, walkCommit func(string) error, emit func(string)) error {
	switch targetType {
	case gogit.CommitObject:
		return walkCommit(target.String())

	case gogit.TreeObject:
		emit(target.String())
		obj, err := repo.GetObject(target.String())
		if err != nil {
			return errors.Wrapf(err, "failed to load tree %s", target)
		}
		tree, ok := obj.(*object.Tree)
		if !ok {
			return errors.Errorf("object %s is not a tree", target)
		}
		refs, err := walkTreeContents(repo, tree)
		if err != nil {
			return err
		}
		for _, h := range refs {
			emit(h)
		}
		return nil

	case gogit.BlobObject:
		emit(target.String())
		return nil

	case gogit.TagObject:
		emit(target.String())
		obj, err := repo.GetObject(target.String())
		if err != nil {
			return errors.Wrapf(err, "failed to load nested tag %s", target)
		}
		nested, ok := obj.(*object.Tag)
		if !ok {
			return errors.Errorf("object %s is not a tag", target)
		}
		return walkTagTarget(repo, nested.Target, nested.TargetType, walkCommit, emit)

	default:
		return errors.Errorf("unsupported tag target type for %s", target)
	}
}

// ListObjects walks the commit history reachable from tip, returning the
// commit, its tree, the tree's entries, and so on down through its
// parents, per spec.md §4.1's list_objects. A commit that is one of present
// or an ancestor of one is skipped along with its tree; trees and blobs are
// not checked against present, so one shared with an excluded commit is
// still listed when a listed commit's tree contains it.
//
// Objects come back referrer-before-dependency, newest commit first,
// mirroring the teacher's WalkCommitHistoryWithIteratee order. Callers
// that need dependency-before-referrer order (the push pipeline's upload
// order, so a referrer is never uploaded before what it points at) must
// reverse the result.
func ListObjects(repo GitRepo, tip string, present []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string

	emit := func(hash string) {
		if !seen[hash] {
			seen[hash] = true
			out = append(out, hash)
		}
	}

	reachableFromPresent := func(hash string) bool {
		for _, p := range present {
			if p == "" || IsZeroHash(p) {
				continue
			}
			if p == hash {
				return true
			}
			if err := repo.IsAncestor(hash, p); err == nil {
				return true
			}
		}
		return false
	}

	var walkCommit func(hash string) error
	walkCommit = func(hash string) error {
		if seen[hash] || reachableFromPresent(hash) {
			return nil
		}

		obj, err := repo.GetObject(hash)
		if err != nil {
			return errors.Wrapf(err, "failed to load object %s", hash)
		}

		commit, ok := obj.(*object.Commit)
		if !ok {
			return errors.Errorf("object %s is not a commit", hash)
		}

		emit(commit.Hash.String())
		emit(commit.TreeHash.String())

		tree, err := commit.Tree()
		if err != nil {
			return errors.Wrapf(err, "failed to load tree of commit %s", hash)
		}
		refs, err := walkTreeContents(repo, tree)
		if err != nil {
			return err
		}
		for _, h := range refs {
			emit(h)
		}

		return commit.Parents().ForEach(func(parent *object.Commit) error {
			return walkCommit(parent.Hash.String())
		})
	}

	tipObj, err := repo.GetObject(tip)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tip object %s", tip)
	}

	if tipObj.Type() == gogit.TagObject {
		tag := tipObj.(*object.Tag)
		emit(tag.Hash.String())
		if err := walkTagTarget(repo, tag.Target, tag.TargetType, walkCommit, emit); err != nil {
			return nil, err
		}
		return out, nil
	}

	if tipObj.Type() == gogit.TreeObject {
		tree := tipObj.(*object.Tree)
		emit(tip)
		refs, err := walkTreeContents(repo, tree)
		if err != nil {
			return nil, err
		}
		for _, h := range refs {
			emit(h)
		}
		return out, nil
	}

	if tipObj.Type() == gogit.BlobObject {
		emit(tip)
		return out, nil
	}

	if err := walkCommit(tip); err != nil {
		return nil, err
	}
	return out, nil
}
