// Package gitexec implements the git adapter (spec.md C1): a thin façade
// over a local repository that the rest of the helper uses to enumerate,
// encode, decode and query git objects, mixing go-git reads with direct
// `git` subprocess calls the way the teacher's remote/repo.LiteGit does.
package gitexec

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-git/go-git/v5"
	gogit "github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/make-os/git-remote-blossom/remote/plumbing"
)

// ErrRefNotFound is returned by RefValue when the given ref does not
// resolve to an object.
var ErrRefNotFound = fmt.Errorf("reference not found")

// Repo is the C1 git adapter: it opens a local repository via go-git for
// object reads and shells out to the `git` binary for the operations
// go-git doesn't expose directly (merge-base, hash-object, symbolic-ref,
// config), the same split the teacher's LiteGit/Repo pair uses.
type Repo struct {
	gitBinPath string
	path       string
	repo       *git.Repository
}

// Open opens the git repository at path (normally the worktree root, one
// level above gitDir) using gitBinPath for subprocess invocations.
func Open(gitBinPath, path string) (*Repo, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open git repository")
	}
	return &Repo{gitBinPath: gitBinPath, path: path, repo: r}, nil
}

// execGit runs `git <args...>` with its working directory set to the
// repository path, the way the teacher's ExecGitCmd does.
func (r *Repo) execGit(args ...string) ([]byte, error) {
	cmd := exec.Command(r.gitBinPath, args...)
	cmd.Dir = r.path
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, errors.Wrapf(err, "exec error: cmd=%s, output=%s", cmd.String(), string(out))
	}
	return out, nil
}

// GetObject returns the git object identified by hash. Satisfies
// plumbing.GitRepo.
func (r *Repo) GetObject(hash string) (object.Object, error) {
	return r.repo.Object(gogit.AnyObject, gogit.NewHash(hash))
}

// ObjectExists reports whether sha is present in the local object
// database (spec.md §4.1 object_exists).
func (r *Repo) ObjectExists(sha string) bool {
	_, err := r.repo.Object(gogit.AnyObject, gogit.NewHash(sha))
	return err == nil
}

// HistoryExists reports whether sha and every object it transitively
// references are present locally (spec.md §4.1 history_exists) — used by
// the fetch pipeline to detect a fully-downloaded subgraph so it doesn't
// re-walk it.
func (r *Repo) HistoryExists(sha string) bool {
	obj, err := r.repo.Object(gogit.AnyObject, gogit.NewHash(sha))
	if err != nil {
		return false
	}

	seen := map[string]bool{sha: true}
	queue := []object.Object{obj}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		deps, derr := plumbing.ReferencedObjects(cur)
		if derr != nil {
			return false
		}

		for _, h := range deps {
			hs := h.String()
			if seen[hs] {
				continue
			}
			seen[hs] = true
			depObj, err := r.repo.Object(gogit.AnyObject, h)
			if err != nil {
				return false
			}
			queue = append(queue, depObj)
		}
	}

	return true
}

// IsAncestor reports whether ancestor is an ancestor of (or equal to)
// descendant, returning nil if so. Satisfies plumbing.GitRepo and spec.md
// §4.1's is_ancestor.
func (r *Repo) IsAncestor(ancestor, descendant string) error {
	if ancestor == descendant {
		return nil
	}
	_, err := r.execGit("merge-base", "--is-ancestor", ancestor, descendant)
	if err != nil {
		return errors.Wrap(err, "not an ancestor")
	}
	return nil
}

// RefValue resolves a local ref (e.g. "refs/heads/main") to the object id
// it currently points at.
func (r *Repo) RefValue(localRef string) (string, error) {
	out, err := r.execGit("rev-parse", "--verify", localRef)
	if err != nil {
		if strings.Contains(err.Error(), "fatal: Needed a single revision") ||
			strings.Contains(err.Error(), "unknown revision") {
			return "", ErrRefNotFound
		}
		return "", errors.Wrap(err, "failed to resolve ref")
	}
	return strings.TrimSpace(string(out)), nil
}

// SymbolicRef resolves a symbolic ref, e.g. "HEAD" -> "refs/heads/main".
func (r *Repo) SymbolicRef(name string) (string, error) {
	out, err := r.execGit("symbolic-ref", name)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve symbolic ref")
	}
	return strings.TrimSpace(string(out)), nil
}

// GetConfigValue reads a git config key scoped to this repository,
// returning "" if unset (spec.md §4.1 get_config_value).
func (r *Repo) GetConfigValue(key string) string {
	out, err := r.execGit("config", key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// EncodeObject reads a git object and renders its wire header plus raw
// body (spec.md §4.1 encode_object). Dependency keys are appended by the
// caller, not here.
func (r *Repo) EncodeObject(sha string) (plumbing.EncodedObject, error) {
	raw, typ, err := r.rawObjectBytes(sha)
	if err != nil {
		return plumbing.EncodedObject{}, err
	}

	return plumbing.EncodedObject{Type: typ, Raw: raw}, nil
}

// rawObjectBytes reads an object's decompressed body and type straight
// from go-git's storer, the way `git cat-file` would.
func (r *Repo) rawObjectBytes(sha string) ([]byte, plumbing.ObjectType, error) {
	eo, err := r.repo.Storer.EncodedObject(gogit.AnyObject, gogit.NewHash(sha))
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to load encoded object %s", sha)
	}

	reader, err := eo.Reader()
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open object reader")
	}
	defer reader.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, "", errors.Wrap(err, "failed to read object body")
	}

	var typ plumbing.ObjectType
	switch eo.Type() {
	case gogit.CommitObject:
		typ = plumbing.TypeCommit
	case gogit.TreeObject:
		typ = plumbing.TypeTree
	case gogit.BlobObject:
		typ = plumbing.TypeBlob
	case gogit.TagObject:
		typ = plumbing.TypeTag
	default:
		return nil, "", fmt.Errorf("unsupported object type for %s", sha)
	}

	return buf.Bytes(), typ, nil
}

// DecodeObjectRaw writes a raw object body into the local object database
// via `git hash-object -w -t <type>` and returns its computed id (spec.md
// §4.1 decode_object_raw), used to materialize objects downloaded during
// fetch.
func (r *Repo) DecodeObjectRaw(t plumbing.ObjectType, raw []byte) (string, error) {
	cmd := exec.Command(r.gitBinPath, "hash-object", "-w", "-t", string(t), "--stdin")
	cmd.Dir = r.path
	cmd.Stdin = bytes.NewReader(raw)
	out := bytes.NewBuffer(nil)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrap(err, "failed to write object")
	}
	return strings.TrimSpace(out.String()), nil
}

// ReferencedObjects returns the ids of the objects sha directly depends
// on, in spec.md §4.1's stable order (spec.md §4.1 referenced_objects).
func (r *Repo) ReferencedObjects(sha string) ([]string, error) {
	obj, err := r.repo.Object(gogit.AnyObject, gogit.NewHash(sha))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load object %s", sha)
	}

	hashes, err := plumbing.ReferencedObjects(obj)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out, nil
}

// ListObjects walks the object graph reachable from tip, skipping commits
// already reachable from present (spec.md §4.1 list_objects). Only commits
// are excluded this way: a tree or blob under a listed commit is listed
// even when an excluded commit also contains it.
func (r *Repo) ListObjects(tip string, present []string) ([]string, error) {
	return plumbing.ListObjects(r, tip, present)
}
