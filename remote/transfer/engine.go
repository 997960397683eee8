// Package transfer implements the concurrent push/fetch pipelines (spec.md
// C6): bounded-parallelism object transfer with dependency-ordered
// cross-task synchronization via have-key signals, progress reporting,
// and fail-fast cancellation on the first error.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/make-os/git-remote-blossom/pkgs/logger"
	"github.com/make-os/git-remote-blossom/remote/plumbing"
	"github.com/make-os/git-remote-blossom/remote/state"
	"github.com/make-os/git-remote-blossom/util"
)

// GitAdapter is the subset of remote/gitexec.Repo the transfer engine
// needs.
type GitAdapter interface {
	RefValue(localRef string) (string, error)
	SymbolicRef(name string) (string, error)
	ListObjects(tip string, present []string) ([]string, error)
	EncodeObject(sha string) (plumbing.EncodedObject, error)
	ReferencedObjects(sha string) ([]string, error)
	ObjectExists(sha string) bool
	HistoryExists(sha string) bool
	DecodeObjectRaw(t plumbing.ObjectType, raw []byte) (string, error)
}

// KeyStore is the subset of remote/keystore.Store the engine needs.
type KeyStore interface {
	Read(sha string) (plumbing.BlossomKey, bool, error)
	Write(sha string, key plumbing.BlossomKey) error
}

// BlossomClient is the subset of remote/blossomclient.Client the engine
// needs.
type BlossomClient interface {
	Put(data []byte, keyHex string) error
	Get(keyHex string) ([]byte, error)
}

// RefState is the subset of remote/state.State the engine needs.
type RefState interface {
	GetRefs(ctx context.Context, forPush bool) (firstPush bool, refs map[string]state.RefEntry, err error)
	WriteRef(ctx context.Context, newSha, dst string, force bool) error
	WriteSymbolicRef(ctx context.Context, name, target string) error
}

// Engine runs the push and fetch pipelines over a single repository.
type Engine struct {
	Git          GitAdapter
	KeyStore     KeyStore
	Blossom      BlossomClient
	State        RefState
	Concurrency  int
	Log          logger.Logger
	Progress     io.Writer
	ShowProgress bool
}

// NewEngine returns an Engine with a default progress writer (stderr).
func NewEngine(git GitAdapter, ks KeyStore, blossom BlossomClient, st RefState, concurrency int, log logger.Logger, showProgress bool) *Engine {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{
		Git:          git,
		KeyStore:     ks,
		Blossom:      blossom,
		State:        st,
		Concurrency:  concurrency,
		Log:          log,
		Progress:     os.Stderr,
		ShowProgress: showProgress,
	}
}

// PushItem is one refspec from a `push` batch (spec.md §4.7).
type PushItem struct {
	Src   string // local ref, e.g. "refs/heads/main"; empty means deletion (unsupported, rejected earlier)
	Dst   string // remote ref, e.g. "refs/heads/main"
	Force bool
}

// PushResult is the outcome of one PushItem.
type PushResult struct {
	Dst string
	Err error
}

// PushBatch runs the push pipeline for every item in items, computing
// `present` once against the ref snapshot taken before any upload starts,
// then — if this is the first push to ever succeed for this project —
// publishes the HEAD symref (spec.md §4.6 "Completion").
func (e *Engine) PushBatch(ctx context.Context, items []PushItem) ([]PushResult, error) {
	opID := uuid.New().String()
	e.logf("push[%s]: starting batch of %d ref(s)", opID, len(items))
	defer e.logf("push[%s]: batch finished", opID)

	firstPush, refs, err := e.State.GetRefs(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch current ref state")
	}

	present := make([]string, 0, len(refs))
	for _, entry := range refs {
		present = append(present, entry.SHA)
	}

	localHead, _ := e.Git.SymbolicRef("HEAD")

	results := make([]PushResult, len(items))
	var chosenDst string
	anySucceeded := false

	for i, item := range items {
		err := e.pushOne(ctx, item, present)
		results[i] = PushResult{Dst: item.Dst, Err: err}
		if err == nil {
			anySucceeded = true
			if chosenDst == "" {
				chosenDst = item.Dst
			}
			if localHead != "" && item.Src == localHead {
				chosenDst = item.Dst
			}
		}
	}

	if firstPush && anySucceeded {
		if err := e.State.WriteSymbolicRef(ctx, "HEAD", chosenDst); err != nil {
			return results, errors.Wrap(err, "failed to publish HEAD symref after first push")
		}
	}

	return results, nil
}

func shortRefName(full string) string {
	const prefix = "refs/"
	if len(full) > len(prefix) && full[:len(prefix)] == prefix {
		return full[len(prefix):]
	}
	return full
}

// pushOne runs the full object-upload pipeline for a single refspec
// (spec.md §4.6 "Push pipeline").
func (e *Engine) pushOne(ctx context.Context, item PushItem, present []string) error {
	srcSha, err := e.Git.RefValue(item.Src)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", item.Src)
	}

	// list_objects yields referrer-before-dependency order (each commit
	// before its tree, contents and parents, newest commit first);
	// reversing it gives the upload order the pipeline needs: dependencies
	// uploaded before whatever points at them.
	objects, err := e.Git.ListObjects(srcSha, present)
	if err != nil {
		return errors.Wrap(err, "failed to enumerate objects to push")
	}
	for l, r := 0, len(objects)-1; l < r; l, r = l+1, r-1 {
		objects[l], objects[r] = objects[r], objects[l]
	}

	total := int32(len(objects))
	var done int32

	signals := make(map[string]*util.Signal, len(objects))
	for _, sha := range objects {
		signals[sha] = util.NewSignal()
	}

	pushCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, sha := range objects {
		sha := sha
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if pushCtx.Err() != nil {
				signals[sha].Fire()
				return
			}

			if err := e.uploadObject(pushCtx, sha, signals); err != nil {
				signals[sha].Fire()
				fail(errors.Wrapf(err, "failed to upload object %s", sha))
				return
			}

			n := atomic.AddInt32(&done, 1)
			e.reportProgress("Writing objects", n, total)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	if total > 0 {
		e.finishProgress("Writing objects")
	}

	return e.State.WriteRef(ctx, srcSha, shortRefName(item.Dst), item.Force)
}

// uploadObject encodes, compresses, content-addresses, and uploads a
// single object, waiting on its dependencies' have-key signals when they
// are not already in the key store (spec.md §4.6 step 5).
func (e *Engine) uploadObject(ctx context.Context, sha string, signals map[string]*util.Signal) error {
	enc, err := e.Git.EncodeObject(sha)
	if err != nil {
		return err
	}

	deps, err := e.Git.ReferencedObjects(sha)
	if err != nil {
		return err
	}

	enc.DepKeys = make([]plumbing.BlossomKey, 0, len(deps))
	for _, dep := range deps {
		key, ok, err := e.KeyStore.Read(dep)
		if err != nil {
			return err
		}
		if !ok {
			sig, scheduled := signals[dep]
			if !scheduled {
				return fmt.Errorf("dependency %s has no blossom key and is not part of this push", dep)
			}
			if err := sig.Wait(ctx); err != nil {
				return err
			}
			key, ok, err = e.KeyStore.Read(dep)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("dependency %s still has no blossom key after its upload completed", dep)
			}
		}
		enc.DepKeys = append(enc.DepKeys, key)
	}

	data := plumbing.Frame(enc)

	compressed, err := plumbing.Compress(data)
	if err != nil {
		return err
	}
	key := plumbing.BlossomKeyOf(compressed)

	if err := e.KeyStore.Write(sha, key); err != nil {
		return err
	}
	signals[sha].Fire()

	return e.Blossom.Put(compressed, key.Hex())
}

func (e *Engine) reportProgress(label string, done, total int32) {
	if !e.ShowProgress || e.Progress == nil || total == 0 {
		return
	}
	pct := int(done * 100 / total)
	fmt.Fprintf(e.Progress, "\r%s: %d%% (%d/%d)", label, pct, done, total)
}

// logf traces a correlated log line for one push/fetch invocation, the way
// the teacher tags related log lines from a single operation with a shared
// id. A nil Log is tolerated so tests can build an Engine without one.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.Log == nil {
		return
	}
	e.Log.Debug(fmt.Sprintf(format, args...))
}

func (e *Engine) finishProgress(label string) {
	if !e.ShowProgress || e.Progress == nil {
		return
	}
	fmt.Fprintf(e.Progress, ", done.\n")
}
