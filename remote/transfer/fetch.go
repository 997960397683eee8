package transfer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/make-os/git-remote-blossom/remote/plumbing"
)

// Want is a single fetch target: a tip sha paired with the Blossom key its
// encoded object is stored under (taken from the ref-state entry that named
// it), per spec.md §4.6's fetch pipeline.
type Want struct {
	Sha    string
	KeyHex string
}

// fetchState is the mutable, shared bookkeeping for one FetchBatch call:
// which shas have already been claimed by a goroutine, a bounded semaphore
// around the actual network GETs, and fail-fast cancellation.
type fetchState struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sem     chan struct{}
	wg      sync.WaitGroup
	claimed sync.Map // sha -> struct{}{}

	errOnce  sync.Once
	firstErr error

	total int32
	done  int32
}

func (f *fetchState) fail(err error) {
	f.errOnce.Do(func() {
		f.firstErr = err
		f.cancel()
	})
}

// claim reports whether this call is the first to claim sha; later callers
// for the same sha (reached via a different referrer) get false and simply
// return, since FetchBatch's top-level wg.Wait still blocks on whichever
// goroutine is actually doing the work.
func (f *fetchState) claim(sha string) bool {
	_, already := f.claimed.LoadOrStore(sha, struct{}{})
	return !already
}

// FetchBatch downloads every object reachable from each want that the
// local repository does not already have, writing objects via DecodeObjectRaw
// as they're decoded and discovering dependencies from each object's own
// tail-keys (spec.md §4.6 "Fetch pipeline").
func (e *Engine) FetchBatch(ctx context.Context, wants []Want) error {
	opID := uuid.New().String()
	e.logf("fetch[%s]: starting batch of %d want(s)", opID, len(wants))
	defer e.logf("fetch[%s]: batch finished", opID)

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fs := &fetchState{
		ctx:    fctx,
		cancel: cancel,
		sem:    make(chan struct{}, e.Concurrency),
	}

	for _, w := range wants {
		if e.Git.HistoryExists(w.Sha) {
			continue
		}
		fs.total++
		fs.wg.Add(1)
		go e.fetchObject(fs, w.Sha, w.KeyHex)
	}

	fs.wg.Wait()

	if fs.firstErr != nil {
		return fs.firstErr
	}
	if fs.total > 0 {
		e.finishProgress("Receiving objects")
	}
	return nil
}

// fetchObject ensures sha and everything it depends on is present locally.
// If the object itself is already on disk its dependencies are read
// straight from git; otherwise it's downloaded from Blossom, decoded, and
// its dependency keys are recovered from the trailing key bytes spec.md §3
// appends to every encoded object.
func (e *Engine) fetchObject(fs *fetchState, sha, keyHex string) {
	defer fs.wg.Done()

	if !fs.claim(sha) {
		return
	}
	if fs.ctx.Err() != nil {
		return
	}

	var deps []string
	var depKeys []plumbing.BlossomKey

	if e.Git.ObjectExists(sha) {
		d, err := e.Git.ReferencedObjects(sha)
		if err != nil {
			fs.fail(errors.Wrapf(err, "failed to enumerate dependencies of local object %s", sha))
			return
		}
		deps = d
		for _, dep := range d {
			key, ok, err := e.KeyStore.Read(dep)
			if err != nil {
				fs.fail(errors.Wrapf(err, "failed to read blossom key for %s", dep))
				return
			}
			if !ok {
				fs.fail(errors.Errorf("object %s is missing and no blossom key is recorded for it", dep))
				return
			}
			depKeys = append(depKeys, key)
		}
	} else {
		fs.sem <- struct{}{}
		raw, err := e.Blossom.Get(keyHex)
		<-fs.sem
		if err != nil {
			fs.fail(errors.Wrapf(err, "failed to download object %s", sha))
			return
		}

		decompressed, err := plumbing.Decompress(raw)
		if err != nil {
			fs.fail(errors.Wrapf(err, "failed to decompress object %s", sha))
			return
		}

		objType, body, depKeyBytes, err := plumbing.ParseDecompressed(decompressed)
		if err != nil {
			fs.fail(errors.Wrapf(err, "failed to parse downloaded object %s", sha))
			return
		}

		gotSha, err := e.Git.DecodeObjectRaw(objType, body)
		if err != nil {
			fs.fail(errors.Wrapf(err, "failed to write object %s to the local repository", sha))
			return
		}
		if gotSha != sha {
			fs.fail(errors.Errorf("downloaded object hash mismatch: wanted %s, got %s", sha, gotSha))
			return
		}

		d, err := e.Git.ReferencedObjects(sha)
		if err != nil {
			fs.fail(errors.Wrapf(err, "failed to enumerate dependencies of %s", sha))
			return
		}
		deps = d

		keys, err := plumbing.SplitDepKeys(depKeyBytes, len(deps))
		if err != nil {
			fs.fail(errors.Wrapf(err, "%s: dependency key bytes did not match its dependency list", sha))
			return
		}
		depKeys = keys

		if key, err := plumbing.BlossomKeyFromHex(keyHex); err == nil {
			_ = e.KeyStore.Write(sha, key)
		}
		for i, dep := range deps {
			_ = e.KeyStore.Write(dep, depKeys[i])
		}

		n := atomic.AddInt32(&fs.done, 1)
		e.reportProgress("Receiving objects", n, atomic.LoadInt32(&fs.total))
	}

	for i, dep := range deps {
		if e.Git.HistoryExists(dep) {
			continue
		}
		atomic.AddInt32(&fs.total, 1)
		fs.wg.Add(1)
		go e.fetchObject(fs, dep, depKeys[i].Hex())
	}
}
