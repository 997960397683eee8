// Package keystore implements the on-disk git-object-id -> Blossom-key
// side table (spec.md C2), fanned out under <git-dir>/blossom the same
// way the teacher shards its own on-disk stores by the first bytes of a
// key to keep any one directory small.
package keystore

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/make-os/git-remote-blossom/remote/plumbing"
)

// Store maps a git object id (hex sha) to the Blossom key of its encoded
// form, persisted under root/<first-2-hex>/<remaining-hex>.
type Store struct {
	root string
}

// New returns a Store rooted at root (normally <git-dir>/blossom).
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) pathFor(sha string) (string, error) {
	if len(sha) < 3 {
		return "", errors.Errorf("invalid object id %q", sha)
	}
	return filepath.Join(s.root, sha[:2], sha[2:]), nil
}

// Read returns the Blossom key stored for sha, or ok=false if none exists.
func (s *Store) Read(sha string) (key plumbing.BlossomKey, ok bool, err error) {
	p, err := s.pathFor(sha)
	if err != nil {
		return key, false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return key, false, nil
		}
		return key, false, errors.Wrap(err, "failed to read blossom key")
	}
	key, err = plumbing.BlossomKeyFromBytes(data)
	if err != nil {
		return key, false, errors.Wrap(err, "corrupt blossom key entry")
	}
	return key, true, nil
}

// Write stores key for sha, atomically (write to a temp file, then
// rename), per spec.md §4.2.
func (s *Store) Write(sha string, key plumbing.BlossomKey) error {
	p, err := s.pathFor(sha)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrap(err, "failed to create key store directory")
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, key.Bytes(), 0644); err != nil {
		return errors.Wrap(err, "failed to write temporary key file")
	}
	if err := os.Rename(tmp, p); err != nil {
		return errors.Wrap(err, "failed to install key file")
	}
	return nil
}
