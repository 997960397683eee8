// Package testutil holds fixtures shared by this module's test suites:
// a throwaway on-disk git repository and a fake Blossom HTTP server,
// trimmed from the teacher's SetTestCfg/GetDB pattern down to what a
// git-remote-helper's tests actually exercise (no chain, no database).
package testutil

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// TempGitRepo is a throwaway on-disk repository created via the real git
// binary, the way integration-level tests in remote/gitexec need one.
type TempGitRepo struct {
	Dir string
}

// NewTempGitRepo initializes an empty repository in dir (an existing
// directory the caller supplies) and returns a handle to it. Callers are
// responsible for removing Dir when done (t.TempDir() callers get that for
// free).
func NewTempGitRepo(dir string) (*TempGitRepo, error) {
	if err := runGit(dir, "init", "-q"); err != nil {
		return nil, err
	}
	if err := runGit(dir, "config", "user.email", "test@example.com"); err != nil {
		return nil, err
	}
	if err := runGit(dir, "config", "user.name", "test"); err != nil {
		return nil, err
	}
	return &TempGitRepo{Dir: dir}, nil
}

// Commit writes name with contents, stages it, and commits, returning the
// new commit's sha.
func (r *TempGitRepo) Commit(name, contents, message string) (string, error) {
	path := filepath.Join(r.Dir, name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		return "", errors.Wrap(err, "failed to write fixture file")
	}
	if err := runGit(r.Dir, "add", name); err != nil {
		return "", err
	}
	if err := runGit(r.Dir, "commit", "-q", "-m", message); err != nil {
		return "", err
	}
	out, err := exec.Command("git", "-C", r.Dir, "rev-parse", "HEAD").CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "rev-parse HEAD: %s", out)
	}
	return string(out[:40]), nil
}

func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "git %v: %s", args, out)
	}
	return nil
}

// FakeBlossomServer is an in-memory Blossom server: PUT /upload stores the
// body under the hex sha256 of its bytes (verified against the caller's
// claimed key via the URL path on GET), GET /<key-hex> returns it, matching
// the real server's content-addressing contract closely enough for the
// remote/blossomclient tests that exercise real HTTP.
type FakeBlossomServer struct {
	*httptest.Server

	mu    sync.Mutex
	blobs map[string][]byte
}

// NewFakeBlossomServer starts a FakeBlossomServer on a local port.
func NewFakeBlossomServer() *FakeBlossomServer {
	s := &FakeBlossomServer{blobs: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *FakeBlossomServer) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/upload":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sum := sha256.Sum256(data)
		keyHex := fmt.Sprintf("%x", sum)
		s.mu.Lock()
		s.blobs[keyHex] = data
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		key := r.URL.Path[1:]
		s.mu.Lock()
		data, ok := s.blobs[key]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Put registers data directly under keyHex, bypassing HTTP, so a test can
// seed the server without going through the client's own PUT path.
func (s *FakeBlossomServer) Put(keyHex string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[keyHex] = data
}
