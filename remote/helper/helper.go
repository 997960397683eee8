// Package helper implements the stdio line-protocol loop (spec.md C7):
// the git-remote-helper contract of reading commands from stdin, writing
// responses to stdout, and tracing to stderr, dispatching to the ref state
// machine and transfer engine.
package helper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/make-os/git-remote-blossom/config"
	"github.com/make-os/git-remote-blossom/pkgs/logger"
	"github.com/make-os/git-remote-blossom/remote/plumbing"
	"github.com/make-os/git-remote-blossom/remote/state"
	"github.com/make-os/git-remote-blossom/remote/transfer"
)

// GitRefResolver is the subset of remote/gitexec.Repo the helper needs for
// its own bookkeeping (everything push/fetch needs goes through Engine).
type GitRefResolver interface {
	GetConfigValue(key string) string
}

// RefState is the subset of remote/state.State the helper drives directly
// (list/HEAD); push/fetch ref mutation happens inside the transfer engine.
type RefState interface {
	GetRefs(ctx context.Context, forPush bool) (firstPush bool, refs map[string]state.RefEntry, err error)
	ReadSymbolicRef(ctx context.Context, name string) (target string, ok bool, err error)
	CheckOwner() error
}

// Helper runs the stdio command loop for one invocation of the binary.
type Helper struct {
	cfg    *config.AppConfig
	git    GitRefResolver
	state  RefState
	engine *transfer.Engine
	log    logger.Logger

	in  *bufio.Reader
	out io.Writer

	// shaToKeyHex caches blossom keys by sha, populated by the last `list`
	// so `fetch <sha> <value>` can resolve a download key without another
	// relay round trip (spec.md §4.6 fetch's "populated from the refs map
	// at list time").
	shaToKeyHex map[string]string
}

// New returns a Helper reading in and writing out.
func New(cfg *config.AppConfig, git GitRefResolver, st RefState, engine *transfer.Engine, log logger.Logger, in io.Reader, out io.Writer) *Helper {
	return &Helper{
		cfg:         cfg,
		git:         git,
		state:       st,
		engine:      engine,
		log:         log,
		in:          bufio.NewReader(in),
		out:         out,
		shaToKeyHex: map[string]string{},
	}
}

// fatalErr is returned by a command handler to signal the process should
// exit nonzero after tracing the error, as opposed to a per-ref RefError
// which the caller surfaces inline and keeps the loop running.
type fatalErr struct{ err error }

func (f *fatalErr) Error() string { return f.err.Error() }
func (f *fatalErr) Unwrap() error { return f.err }

func fatal(err error) error { return &fatalErr{err} }

// Run reads commands until a top-level blank line or a fatal error. It
// returns nil on clean termination and a non-nil error when the process
// should exit nonzero (the caller decides the exact exit code/formatting,
// matching spec.md §6 "Exit 0 on clean termination, 1 on error").
func (h *Helper) Run(ctx context.Context) error {
	for {
		line, err := h.readLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fatal(errors.Wrap(err, "failed to read command"))
		}

		switch {
		case line == "":
			return nil
		case line == "capabilities":
			h.writeLine("push")
			h.writeLine("fetch")
			h.writeLine("option")
			h.writeLine("")
		case strings.HasPrefix(line, "option "):
			h.handleOption(strings.TrimPrefix(line, "option "))
		case line == "list" || line == "list for-push":
			if err := h.handleList(ctx, line == "list for-push"); err != nil {
				return fatal(err)
			}
		case strings.HasPrefix(line, "push "):
			if err := h.handlePushBatch(ctx, line); err != nil {
				return fatal(err)
			}
		case strings.HasPrefix(line, "fetch "):
			if err := h.handleFetchBatch(ctx, line); err != nil {
				return fatal(err)
			}
		default:
			return fatal(fmt.Errorf("unknown command %q", line))
		}
	}
}

func (h *Helper) readLine() (string, error) {
	line, err := h.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (h *Helper) writeLine(s string) {
	fmt.Fprintf(h.out, "%s\n", s)
}

func (h *Helper) handleOption(arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 2 && fields[0] == "verbosity" {
		if err := config.SetVerbosityFromString(h.cfg, fields[1]); err != nil {
			h.writeLine("unsupported")
			return
		}
		if h.engine != nil {
			h.engine.ShowProgress = h.cfg.Verbosity >= config.VerbosityInfo
		}
		h.writeLine("ok")
		return
	}
	h.writeLine("unsupported")
}

// handleList answers `list`/`list for-push` (spec.md §4.7).
func (h *Helper) handleList(ctx context.Context, forPush bool) error {
	_, refs, err := h.state.GetRefs(ctx, forPush)
	if err != nil {
		return errors.Wrap(err, "failed to fetch ref state")
	}

	if h.git.GetConfigValue("extensions.objectformat") == "sha256" {
		h.writeLine(":object-format sha256")
	}

	for name, entry := range refs {
		h.shaToKeyHex[entry.SHA] = entry.BlossomKeyHex
		h.writeLine(fmt.Sprintf("%s refs/%s", entry.SHA, name))
	}

	if !forPush {
		if target, ok, err := h.state.ReadSymbolicRef(ctx, "HEAD"); err == nil && ok {
			h.writeLine(fmt.Sprintf("@%s HEAD", target))
		}
	}

	h.writeLine("")
	return nil
}

// handlePushBatch reads `push [+]src:dst` lines until a blank line, then
// runs the push pipeline once over the whole batch (spec.md §4.7).
func (h *Helper) handlePushBatch(ctx context.Context, firstLine string) error {
	var items []transfer.PushItem
	var deletionDsts []string

	line := firstLine
	for {
		spec := strings.TrimPrefix(line, "push ")
		force := strings.HasPrefix(spec, "+")
		spec = strings.TrimPrefix(spec, "+")

		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return fatal(fmt.Errorf("malformed push spec %q", spec))
		}
		src, dst := parts[0], parts[1]
		if !plumbing.IsReference(dst) {
			return fatal(fmt.Errorf("refusing to push to non-ref destination %q", dst))
		}
		if src == "" {
			deletionDsts = append(deletionDsts, dst)
		} else {
			items = append(items, transfer.PushItem{Src: src, Dst: dst, Force: force})
		}

		next, err := h.readLine()
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "failed to read push batch")
		}
		if next == "" {
			break
		}
		line = next
	}

	if err := h.state.CheckOwner(); err != nil {
		return errors.Wrap(err, "push rejected")
	}

	for _, dst := range deletionDsts {
		h.writeLine(fmt.Sprintf("error %s deletion unsupported", dst))
	}

	results, err := h.engine.PushBatch(ctx, items)
	if err != nil {
		return errors.Wrap(err, "push pipeline failed")
	}

	for _, r := range results {
		if r.Err == nil {
			h.writeLine(fmt.Sprintf("ok %s", r.Dst))
			continue
		}
		h.writeLine(fmt.Sprintf("error %s %s", r.Dst, refErrorMessage(r.Err)))
	}

	h.writeLine("")
	return nil
}

func refErrorMessage(err error) string {
	switch {
	case errors.Is(err, state.ErrFetchFirst):
		return "fetch first"
	case errors.Is(err, state.ErrNonFastForward):
		return "non-fast-forward"
	default:
		return err.Error()
	}
}

// handleFetchBatch reads `fetch <sha> <value>` lines until a blank line,
// then runs the fetch pipeline once over the whole batch (spec.md §4.7).
func (h *Helper) handleFetchBatch(ctx context.Context, firstLine string) error {
	var wants []transfer.Want

	line := firstLine
	for {
		fields := strings.Fields(strings.TrimPrefix(line, "fetch "))
		if len(fields) < 1 {
			return fmt.Errorf("malformed fetch command %q", line)
		}
		sha := fields[0]
		wants = append(wants, transfer.Want{Sha: sha, KeyHex: h.shaToKeyHex[sha]})

		next, err := h.readLine()
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "failed to read fetch batch")
		}
		if next == "" {
			break
		}
		line = next
	}

	if err := h.engine.FetchBatch(ctx, wants); err != nil {
		return errors.Wrap(err, "fetch pipeline failed")
	}

	h.writeLine("")
	return nil
}
