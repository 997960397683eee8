package plumbing_test

import (
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	gogit "github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/make-os/git-remote-blossom/remote/plumbing"
)

// memRepo adapts an in-memory go-git repository to plumbing.GitRepo, the
// way remote/gitexec's adapter does for an on-disk repository.
type memRepo struct {
	repo *git.Repository
}

func (r *memRepo) GetObject(hash string) (object.Object, error) {
	return r.repo.Object(gogit.AnyObject, gogit.NewHash(hash))
}

func (r *memRepo) IsAncestor(ancestor, descendant string) error {
	a, err := r.repo.CommitObject(gogit.NewHash(ancestor))
	if err != nil {
		return err
	}
	d, err := r.repo.CommitObject(gogit.NewHash(descendant))
	if err != nil {
		return err
	}
	ok, err := a.IsAncestor(d)
	if err != nil {
		return err
	}
	if !ok {
		return gogit.ErrObjectNotFound
	}
	return nil
}

var _ = Describe("ListObjects", func() {
	var repo *git.Repository
	var r *memRepo
	var first, second gogit.Hash

	sig := &object.Signature{Name: "tester", Email: "t@example.com", When: time.Unix(0, 0)}

	BeforeEach(func() {
		fs := memfs.New()
		var err error
		repo, err = git.Init(memory.NewStorage(), fs)
		Expect(err).To(BeNil())
		r = &memRepo{repo: repo}

		wt, err := repo.Worktree()
		Expect(err).To(BeNil())

		f, err := fs.Create("a.txt")
		Expect(err).To(BeNil())
		_, err = f.Write([]byte("one"))
		Expect(err).To(BeNil())
		Expect(f.Close()).To(BeNil())
		_, err = wt.Add("a.txt")
		Expect(err).To(BeNil())
		first, err = wt.Commit("first", &git.CommitOptions{Author: sig})
		Expect(err).To(BeNil())

		f2, err := fs.Create("b.txt")
		Expect(err).To(BeNil())
		_, err = f2.Write([]byte("two"))
		Expect(err).To(BeNil())
		Expect(f2.Close()).To(BeNil())
		_, err = wt.Add("b.txt")
		Expect(err).To(BeNil())
		second, err = wt.Commit("second", &git.CommitOptions{Author: sig})
		Expect(err).To(BeNil())
	})

	It("lists every object reachable from tip when present is empty", func() {
		objs, err := plumbing.ListObjects(r, second.String(), nil)
		Expect(err).To(BeNil())
		Expect(objs).To(ContainElement(second.String()))
		Expect(objs).To(ContainElement(first.String()))
		// newest-first: the tip commit appears before its parent.
		Expect(indexOf(objs, second.String())).To(BeNumerically("<", indexOf(objs, first.String())))
	})

	It("excludes objects already reachable from present", func() {
		objs, err := plumbing.ListObjects(r, second.String(), []string{first.String()})
		Expect(err).To(BeNil())
		Expect(objs).To(ContainElement(second.String()))
		Expect(objs).NotTo(ContainElement(first.String()))
	})

	It("returns nothing new when tip is already present", func() {
		objs, err := plumbing.ListObjects(r, first.String(), []string{first.String()})
		Expect(err).To(BeNil())
		Expect(objs).To(BeEmpty())
	})
})

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
