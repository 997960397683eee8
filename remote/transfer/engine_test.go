package transfer_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/make-os/git-remote-blossom/remote/plumbing"
	"github.com/make-os/git-remote-blossom/remote/state"
	"github.com/make-os/git-remote-blossom/remote/transfer"
)

type fakeObj struct {
	typ  plumbing.ObjectType
	raw  []byte
	deps []string
}

type fakeGit struct {
	objects map[string]fakeObj
	refs    map[string]string
	head    string
	present map[string]bool

	listObjectsResult []string
	listObjectsErr    error

	decodeBySha map[string]string // raw content -> sha DecodeObjectRaw should return
}

func (f *fakeGit) RefValue(ref string) (string, error) {
	sha, ok := f.refs[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %s", ref)
	}
	return sha, nil
}

func (f *fakeGit) SymbolicRef(name string) (string, error) {
	if name == "HEAD" {
		return f.head, nil
	}
	return "", fmt.Errorf("no symref %s", name)
}

func (f *fakeGit) ListObjects(tip string, present []string) ([]string, error) {
	return f.listObjectsResult, f.listObjectsErr
}

func (f *fakeGit) EncodeObject(sha string) (plumbing.EncodedObject, error) {
	obj, ok := f.objects[sha]
	if !ok {
		return plumbing.EncodedObject{}, fmt.Errorf("unknown object %s", sha)
	}
	return plumbing.EncodedObject{Type: obj.typ, Raw: obj.raw}, nil
}

func (f *fakeGit) ReferencedObjects(sha string) ([]string, error) {
	obj, ok := f.objects[sha]
	if !ok {
		return nil, fmt.Errorf("unknown object %s", sha)
	}
	return obj.deps, nil
}

func (f *fakeGit) ObjectExists(sha string) bool { return f.present[sha] }

func (f *fakeGit) HistoryExists(sha string) bool {
	if !f.present[sha] {
		return false
	}
	for _, dep := range f.objects[sha].deps {
		if !f.HistoryExists(dep) {
			return false
		}
	}
	return true
}

func (f *fakeGit) DecodeObjectRaw(t plumbing.ObjectType, raw []byte) (string, error) {
	sha, ok := f.decodeBySha[string(raw)]
	if !ok {
		return "", fmt.Errorf("unexpected raw content for decode")
	}
	if f.present == nil {
		f.present = map[string]bool{}
	}
	f.present[sha] = true
	return sha, nil
}

type fakeKeyStore struct {
	keys map[string]plumbing.BlossomKey
}

func (f *fakeKeyStore) Read(sha string) (plumbing.BlossomKey, bool, error) {
	k, ok := f.keys[sha]
	return k, ok, nil
}

func (f *fakeKeyStore) Write(sha string, key plumbing.BlossomKey) error {
	if f.keys == nil {
		f.keys = map[string]plumbing.BlossomKey{}
	}
	f.keys[sha] = key
	return nil
}

type fakeBlossom struct {
	blobs map[string][]byte
}

func (f *fakeBlossom) Put(data []byte, keyHex string) error {
	if f.blobs == nil {
		f.blobs = map[string][]byte{}
	}
	f.blobs[keyHex] = data
	return nil
}

func (f *fakeBlossom) Get(keyHex string) ([]byte, error) {
	data, ok := f.blobs[keyHex]
	if !ok {
		return nil, fmt.Errorf("no blob for %s", keyHex)
	}
	return data, nil
}

type fakeState struct {
	firstPush bool
	refs      map[string]state.RefEntry

	writeRefCalls []string
	symrefCalls   []string
	failWriteRef  error
}

func (f *fakeState) GetRefs(ctx context.Context, forPush bool) (bool, map[string]state.RefEntry, error) {
	return f.firstPush, f.refs, nil
}

func (f *fakeState) WriteRef(ctx context.Context, newSha, dst string, force bool) error {
	if f.failWriteRef != nil {
		return f.failWriteRef
	}
	f.writeRefCalls = append(f.writeRefCalls, dst+"="+newSha)
	return nil
}

func (f *fakeState) WriteSymbolicRef(ctx context.Context, name, target string) error {
	f.symrefCalls = append(f.symrefCalls, name+"->"+target)
	return nil
}

func newGraphFixture() *fakeGit {
	return &fakeGit{
		objects: map[string]fakeObj{
			"sha-blob":   {typ: plumbing.TypeBlob, raw: []byte("blob contents")},
			"sha-tree":   {typ: plumbing.TypeTree, raw: []byte("tree contents"), deps: []string{"sha-blob"}},
			"sha-commit": {typ: plumbing.TypeCommit, raw: []byte("commit contents"), deps: []string{"sha-tree"}},
		},
		refs:              map[string]string{"refs/heads/main": "sha-commit"},
		head:              "refs/heads/main",
		present:           map[string]bool{},
		listObjectsResult: []string{"sha-commit", "sha-tree", "sha-blob"},
	}
}

func TestPushBatchUploadsDependenciesBeforeReferrers(t *testing.T) {
	git := newGraphFixture()
	ks := &fakeKeyStore{}
	bl := &fakeBlossom{}
	st := &fakeState{refs: map[string]state.RefEntry{}}

	e := transfer.NewEngine(git, ks, bl, st, 4, nil, false)

	results, err := e.PushBatch(context.Background(), []transfer.PushItem{
		{Src: "refs/heads/main", Dst: "refs/heads/main", Force: false},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	for _, sha := range []string{"sha-blob", "sha-tree", "sha-commit"} {
		_, ok, err := ks.Read(sha)
		require.NoError(t, err)
		require.True(t, ok, "expected a blossom key recorded for %s", sha)
	}
	require.Len(t, bl.blobs, 3)
	require.Equal(t, []string{"heads/main=sha-commit"}, st.writeRefCalls)
}

func TestPushBatchFirstPushPublishesHeadSymref(t *testing.T) {
	git := newGraphFixture()
	ks := &fakeKeyStore{}
	bl := &fakeBlossom{}
	st := &fakeState{firstPush: true, refs: map[string]state.RefEntry{}}

	e := transfer.NewEngine(git, ks, bl, st, 2, nil, false)

	_, err := e.PushBatch(context.Background(), []transfer.PushItem{
		{Src: "refs/heads/main", Dst: "refs/heads/main"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"HEAD->refs/heads/main"}, st.symrefCalls)
}

func TestPushBatchSurfacesUploadFailureAndSkipsWriteRef(t *testing.T) {
	git := newGraphFixture()
	ks := &fakeKeyStore{}
	bl := &fakeBlossom{}
	st := &fakeState{refs: map[string]state.RefEntry{}}

	e := transfer.NewEngine(git, ks, bl, st, 2, nil, false)

	// Corrupt the blob's object so EncodeObject fails for it.
	delete(git.objects, "sha-blob")

	results, err := e.PushBatch(context.Background(), []transfer.PushItem{
		{Src: "refs/heads/main", Dst: "refs/heads/main"},
	})
	require.NoError(t, err) // PushBatch itself doesn't fail; the per-item result carries the error.
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	require.Empty(t, st.writeRefCalls)
}
