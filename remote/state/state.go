// Package state implements the remote ref state machine (spec.md C5): an
// in-memory view of a repository's kind-30618 Nostr event, with
// fast-forward checks, mutation, and republish.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"

	"github.com/make-os/git-remote-blossom/crypto"
	"github.com/make-os/git-remote-blossom/remote/nostrclient"
	"github.com/make-os/git-remote-blossom/remote/plumbing"
)

// RefEntry is a branch or tag's tip, paired with the Blossom key of its
// encoded commit/tag object (spec.md §3 RefEntry).
type RefEntry struct {
	SHA           string
	BlossomKeyHex string
}

// KeyStore is the subset of remote/keystore.Store that the ref state
// machine needs: looking up the Blossom key a just-finished push wrote
// for a ref's new tip, and priming the store with keys embedded in
// ref-state tags so the transfer engine can read them back for tips it
// did not itself just upload.
type KeyStore interface {
	Read(sha string) (plumbing.BlossomKey, bool, error)
	Write(sha string, key plumbing.BlossomKey) error
}

// GitAncestry is the subset of remote/gitexec.Repo needed for the
// fast-forward check: whether the local repository has a given object,
// and whether one commit is an ancestor of another.
type GitAncestry interface {
	ObjectExists(sha string) bool
	IsAncestor(ancestor, descendant string) error
}

// ErrFetchFirst is returned by WriteRef when the local repository does not
// have the remote's current tip for dst.
var ErrFetchFirst = fmt.Errorf("fetch first")

// ErrNonFastForward is returned by WriteRef when the new tip is not a
// descendant of the remote's current tip.
var ErrNonFastForward = fmt.Errorf("non-fast-forward")

// ErrNotOwner is returned when the configured secret key does not belong
// to the repository identity named in the remote URL.
var ErrNotOwner = fmt.Errorf("the configured key is not this repository's owner")

// Relay is the subset of remote/nostrclient.Client the state machine
// needs, narrowed to an interface so tests can substitute a fake relay.
type Relay interface {
	QueryState(ctx context.Context, authorPubkeyHex, project string) (*nostr.Event, error)
	Publish(ctx context.Context, evt nostr.Event) error
}

// State owns the ref/symref view for one (owner, project) pair.
type State struct {
	relay    Relay
	keys     *crypto.Keys
	owner    crypto.PublicKey
	project  string
	keyStore KeyStore
	gitRepo  GitAncestry

	loaded  bool
	event   *nostr.Event // nil if no state event exists yet
	refs    map[string]RefEntry
	symrefs map[string]string
}

// New returns a State for project, owned by owner. keys is the secret key
// configured for this remote, used to sign republished events; it may
// have an empty Priv for a read-only (fetch-only) session as long as no
// mutating operation is attempted.
func New(relay Relay, keys *crypto.Keys, owner crypto.PublicKey, project string, keyStore KeyStore, gitRepo GitAncestry) *State {
	return &State{
		relay:    relay,
		keys:     keys,
		owner:    owner,
		project:  project,
		keyStore: keyStore,
		gitRepo:  gitRepo,
	}
}

// CheckOwner verifies the configured secret key belongs to the repository
// identity named in the remote URL (spec.md §4.5: "only the owner of sk
// may push"). Callers must invoke this before any write operation.
func (s *State) CheckOwner() error {
	if s.keys.Priv == "" {
		return errors.New("no secret key configured; this session is read-only")
	}
	if !s.keys.Pub.Equal(s.owner) {
		return ErrNotOwner
	}
	return nil
}

// ensureLoaded lazily fetches the ref-state event from the relay, the way
// get_refs/get_ref/write_ref all implicitly require state to be loaded
// before they act (spec.md §4.5).
func (s *State) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	evt, err := s.relay.QueryState(ctx, s.owner.String(), s.project)
	if err != nil {
		return errors.Wrap(err, "failed to query ref state")
	}

	s.refs = map[string]RefEntry{}
	s.symrefs = map[string]string{}

	if evt != nil {
		s.event = evt
		for _, tag := range evt.Tags {
			switch {
			case len(tag) >= 4 && tag[0] == "ref":
				entry := RefEntry{SHA: tag[2], BlossomKeyHex: tag[3]}
				s.refs[tag[1]] = entry
				// Prime the key store with every ref tip's embedded key,
				// the way get_ref's side effect does in the original
				// (spec.md §4.5), so the push pipeline can read a
				// present-tip dependency's key without re-hashing it.
				if key, err := plumbing.BlossomKeyFromHex(entry.BlossomKeyHex); err == nil {
					_ = s.keyStore.Write(entry.SHA, key)
				}
			case len(tag) >= 3 && tag[0] == "symref":
				s.symrefs[tag[1]] = parseSymrefTarget(tag[2])
			}
		}
	}

	s.loaded = true
	return nil
}

func parseSymrefTarget(value string) string {
	const prefix = "ref: "
	if len(value) > len(prefix) && value[:len(prefix)] == prefix {
		return value[len(prefix):]
	}
	return value
}

// GetRefs returns whether this is the first push (no state event exists
// yet) and the current ref map (spec.md §4.5 get_refs).
func (s *State) GetRefs(ctx context.Context, forPush bool) (firstPush bool, refs map[string]RefEntry, err error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return false, nil, err
	}
	if s.event == nil {
		return forPush, map[string]RefEntry{}, nil
	}
	out := make(map[string]RefEntry, len(s.refs))
	for k, v := range s.refs {
		out[k] = v
	}
	return false, out, nil
}

// SetRef looks up newSha's Blossom key (which must already be present —
// the transfer engine writes it during upload) and inserts or replaces
// the ref's tag (spec.md §4.5 set_ref).
func (s *State) SetRef(refname, newSha string) error {
	key, ok, err := s.keyStore.Read(newSha)
	if err != nil {
		return errors.Wrap(err, "failed to read blossom key for new ref tip")
	}
	if !ok {
		return errors.Errorf("no blossom key recorded for %s; it must be uploaded before the ref can be updated", newSha)
	}
	if s.refs == nil {
		s.refs = map[string]RefEntry{}
	}
	s.refs[refname] = RefEntry{SHA: newSha, BlossomKeyHex: key.Hex()}
	return nil
}

// SetSymRef adds or replaces a symref tag (spec.md §4.5 set_symref).
func (s *State) SetSymRef(name, target string) {
	if s.symrefs == nil {
		s.symrefs = map[string]string{}
	}
	s.symrefs[name] = target
}

// ReadSymbolicRef returns the target of a symref, e.g. ReadSymbolicRef(ctx,
// "HEAD") -> "refs/heads/main" (spec.md §4.5 read_symbolic_ref).
func (s *State) ReadSymbolicRef(ctx context.Context, name string) (target string, ok bool, err error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return "", false, err
	}
	target, ok = s.symrefs[name]
	return target, ok, nil
}

// WriteRef updates dst to newSha, enforcing the fast-forward invariant,
// then republishes the state event (spec.md §4.5 write_ref).
//
// dst and any previously-recorded ref name are matched using the
// StateEvent tag convention of storing ref names without their "refs/"
// prefix; callers pass the short form (e.g. "heads/main").
func (s *State) WriteRef(ctx context.Context, newSha, dst string, force bool) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	if !force {
		if old, ok := s.refs[dst]; ok && old.SHA != newSha {
			if !s.gitRepo.ObjectExists(old.SHA) {
				return ErrFetchFirst
			}
			if err := s.gitRepo.IsAncestor(old.SHA, newSha); err != nil {
				return ErrNonFastForward
			}
		}
	}

	if err := s.SetRef(dst, newSha); err != nil {
		return err
	}

	return s.publish(ctx)
}

// WriteSymbolicRef sets a symref and republishes the state event (spec.md
// §4.5 write_symbolic_ref).
func (s *State) WriteSymbolicRef(ctx context.Context, name, target string) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	s.SetSymRef(name, target)
	return s.publish(ctx)
}

// publish rebuilds the event from the in-memory refs/symrefs maps,
// advances created_at (the current wall-clock second, or the prior value
// plus one second if the clock has not moved past it — spec.md §3's
// "bumped by +1 on same-second replace"), signs it, and publishes it.
func (s *State) publish(ctx context.Context) error {
	now := nostr.Timestamp(time.Now().Unix())
	if s.event != nil && now <= s.event.CreatedAt {
		now = s.event.CreatedAt + 1
	}

	evt := nostr.Event{
		Kind:      nostrclient.StateEventKind,
		PubKey:    s.owner.String(),
		CreatedAt: now,
		Content:   "",
	}
	evt.Tags = append(evt.Tags, nostr.Tag{"d", s.project})
	for refname, entry := range s.refs {
		evt.Tags = append(evt.Tags, nostr.Tag{"ref", refname, entry.SHA, entry.BlossomKeyHex})
	}
	for name, target := range s.symrefs {
		evt.Tags = append(evt.Tags, nostr.Tag{"symref", name, "ref: " + target})
	}

	if err := s.keys.Sign(&evt); err != nil {
		return errors.Wrap(err, "failed to sign ref state event")
	}
	if err := s.relay.Publish(ctx, evt); err != nil {
		return err
	}

	s.event = &evt
	return nil
}
