package helper_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/make-os/git-remote-blossom/config"
	"github.com/make-os/git-remote-blossom/remote/helper"
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
	objects     map[string]fakeObj
	refs        map[string]string
	head        string
	present     map[string]bool
	configVals  map[string]string
	listResult  []string
	decodeBySha map[string]string
}

func (f *fakeGit) RefValue(ref string) (string, error) {
	sha, ok := f.refs[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %s", ref)
	}
	return sha, nil
}

func (f *fakeGit) SymbolicRef(name string) (string, error) { return f.head, nil }

func (f *fakeGit) ListObjects(tip string, present []string) ([]string, error) {
	return f.listResult, nil
}

func (f *fakeGit) EncodeObject(sha string) (plumbing.EncodedObject, error) {
	obj := f.objects[sha]
	return plumbing.EncodedObject{Type: obj.typ, Raw: obj.raw}, nil
}

func (f *fakeGit) ReferencedObjects(sha string) ([]string, error) { return f.objects[sha].deps, nil }

func (f *fakeGit) ObjectExists(sha string) bool { return f.present[sha] }

func (f *fakeGit) HistoryExists(sha string) bool {
	if !f.present[sha] {
		return false
	}
	for _, d := range f.objects[sha].deps {
		if !f.HistoryExists(d) {
			return false
		}
	}
	return true
}

func (f *fakeGit) DecodeObjectRaw(t plumbing.ObjectType, raw []byte) (string, error) {
	sha, ok := f.decodeBySha[string(raw)]
	if !ok {
		return "", fmt.Errorf("unexpected raw")
	}
	return sha, nil
}

func (f *fakeGit) GetConfigValue(key string) string { return f.configVals[key] }

type fakeKeyStore struct{ keys map[string]plumbing.BlossomKey }

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

type fakeBlossom struct{ blobs map[string][]byte }

func (f *fakeBlossom) Put(data []byte, keyHex string) error {
	if f.blobs == nil {
		f.blobs = map[string][]byte{}
	}
	f.blobs[keyHex] = data
	return nil
}

func (f *fakeBlossom) Get(keyHex string) ([]byte, error) {
	d, ok := f.blobs[keyHex]
	if !ok {
		return nil, fmt.Errorf("no blob for %s", keyHex)
	}
	return d, nil
}

type fakeState struct {
	firstPush  bool
	refs       map[string]state.RefEntry
	headTarget string
	ownerErr   error
}

func (f *fakeState) GetRefs(ctx context.Context, forPush bool) (bool, map[string]state.RefEntry, error) {
	return f.firstPush, f.refs, nil
}

func (f *fakeState) ReadSymbolicRef(ctx context.Context, name string) (string, bool, error) {
	if f.headTarget == "" {
		return "", false, nil
	}
	return f.headTarget, true, nil
}

func (f *fakeState) CheckOwner() error { return f.ownerErr }

func (f *fakeState) WriteRef(ctx context.Context, newSha, dst string, force bool) error {
	return nil
}

func (f *fakeState) WriteSymbolicRef(ctx context.Context, name, target string) error {
	return nil
}

func TestHelperCapabilitiesAndOptions(t *testing.T) {
	in := strings.NewReader("capabilities\noption verbosity 1\noption bogus\n\n")
	out := &bytes.Buffer{}

	git := &fakeGit{configVals: map[string]string{}}
	st := &fakeState{refs: map[string]state.RefEntry{}}
	engine := transfer.NewEngine(git, &fakeKeyStore{}, &fakeBlossom{}, st, 2, nil, false)
	h := helper.New(config.EmptyAppConfig(), git, st, engine, nil, in, out)

	require.NoError(t, h.Run(context.Background()))

	lines := strings.Split(out.String(), "\n")
	require.Equal(t, "push", lines[0])
	require.Equal(t, "fetch", lines[1])
	require.Equal(t, "option", lines[2])
	require.Equal(t, "", lines[3])
	require.Equal(t, "ok", lines[4])
	require.Equal(t, "unsupported", lines[5])
}

func TestHelperListAdvertisesRefsAndHead(t *testing.T) {
	in := strings.NewReader("list\n\n")
	out := &bytes.Buffer{}

	git := &fakeGit{configVals: map[string]string{}}
	st := &fakeState{
		refs:       map[string]state.RefEntry{"heads/main": {SHA: "sha-commit", BlossomKeyHex: "ab"}},
		headTarget: "refs/heads/main",
	}
	engine := transfer.NewEngine(git, &fakeKeyStore{}, &fakeBlossom{}, st, 2, nil, false)
	h := helper.New(config.EmptyAppConfig(), git, st, engine, nil, in, out)

	require.NoError(t, h.Run(context.Background()))

	output := out.String()
	require.Contains(t, output, "sha-commit refs/heads/main\n")
	require.Contains(t, output, "@refs/heads/main HEAD\n")
}

func TestHelperPushBatchReportsOkAndRunsUpload(t *testing.T) {
	in := strings.NewReader("push refs/heads/main:refs/heads/main\n\n\n")
	out := &bytes.Buffer{}

	git := &fakeGit{
		objects: map[string]fakeObj{
			"sha-blob":   {typ: plumbing.TypeBlob, raw: []byte("hello")},
			"sha-commit": {typ: plumbing.TypeCommit, raw: []byte("commit"), deps: []string{"sha-blob"}},
		},
		refs:       map[string]string{"refs/heads/main": "sha-commit"},
		head:       "refs/heads/main",
		present:    map[string]bool{},
		listResult: []string{"sha-commit", "sha-blob"},
	}
	st := &fakeState{refs: map[string]state.RefEntry{}}
	bl := &fakeBlossom{}
	engine := transfer.NewEngine(git, &fakeKeyStore{}, bl, st, 2, nil, false)
	h := helper.New(config.EmptyAppConfig(), git, st, engine, nil, in, out)

	require.NoError(t, h.Run(context.Background()))
	require.Contains(t, out.String(), "ok refs/heads/main\n")
	require.Len(t, bl.blobs, 2)
}

func TestHelperUnknownCommandIsFatal(t *testing.T) {
	in := strings.NewReader("bogus-command\n")
	out := &bytes.Buffer{}

	git := &fakeGit{configVals: map[string]string{}}
	st := &fakeState{refs: map[string]state.RefEntry{}}
	engine := transfer.NewEngine(git, &fakeKeyStore{}, &fakeBlossom{}, st, 2, nil, false)
	h := helper.New(config.EmptyAppConfig(), git, st, engine, nil, in, out)

	require.Error(t, h.Run(context.Background()))
}
