// Command git-remote-blossom is a git remote helper for blossom:// and
// nostr:// URLs (spec.md §6): a repository's ref state lives in a Nostr
// kind-30618 event, and its objects live on a Blossom server, content
// addressed and dependency-chained the way spec.md §3/§4.6 describes.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/make-os/git-remote-blossom/config"
	"github.com/make-os/git-remote-blossom/crypto"
	"github.com/make-os/git-remote-blossom/remote/blossomclient"
	"github.com/make-os/git-remote-blossom/remote/gitexec"
	"github.com/make-os/git-remote-blossom/remote/helper"
	"github.com/make-os/git-remote-blossom/remote/keystore"
	"github.com/make-os/git-remote-blossom/remote/nostrclient"
	"github.com/make-os/git-remote-blossom/remote/state"
	"github.com/make-os/git-remote-blossom/remote/transfer"
)

func main() {
	root := &cobra.Command{
		Use:                   "git-remote-blossom <remote-name> <url>",
		Short:                 "git remote helper for blossom:// and nostr:// repositories",
		Args:                  cobra.ExactArgs(2),
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagParsing:    true,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1])
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "git-remote-blossom:", err)
		os.Exit(1)
	}
}

// run wires C1–C7 together for one helper invocation and drives the stdio
// loop to completion.
func run(remoteName, rawURL string) error {
	gitDir := config.GitDirFromEnv()
	cfg, err := config.LoadFromEnv(gitDir)
	if err != nil {
		return errors.Wrap(err, "config error")
	}
	log := cfg.G().Log.Module("helper")

	project, owner, err := parseRemoteURL(rawURL)
	if err != nil {
		return errors.Wrap(err, "config error: invalid remote url")
	}

	git, err := gitexec.Open(cfg.GitBinPath, ".")
	if err != nil {
		return errors.Wrap(err, "config error: failed to open local repository")
	}

	relayURL := git.GetConfigValue("nostr.relay")
	if relayURL == "" {
		return errors.New("config error: nostr.relay is not set")
	}
	blossomURL := git.GetConfigValue("nostr.blossom")
	if blossomURL == "" {
		return errors.New("config error: nostr.blossom is not set")
	}

	secret := git.GetConfigValue("nostr.nsec")
	if secret == "" {
		secret = git.GetConfigValue("nostr.sec")
	}
	var keys *crypto.Keys
	if secret != "" {
		keys, err = crypto.ParseSecretKey(secret)
		if err != nil {
			return errors.Wrap(err, "config error: bad secret key encoding")
		}
	} else {
		keys = &crypto.Keys{Pub: owner}
	}

	ctx := context.Background()

	relay, err := nostrclient.Connect(ctx, relayURL)
	if err != nil {
		return errors.Wrap(err, "relay error")
	}
	defer relay.Close()

	ks := keystore.New(cfg.DataDir)
	blossom := blossomclient.New(blossomURL, keys)
	st := state.New(relay, keys, owner, project, ks, git)
	engine := transfer.NewEngine(git, ks, blossom, st, cfg.Concurrency, log, cfg.Verbosity >= config.VerbosityInfo)

	h := helper.New(cfg, git, st, engine, log, os.Stdin, os.Stdout)
	return h.Run(ctx)
}

// parseRemoteURL parses "blossom://<npub1...>/<project>" or the "nostr://"
// alias (spec.md §6/§9: both schemes behave identically).
func parseRemoteURL(rawURL string) (project string, owner crypto.PublicKey, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrap(err, "malformed url")
	}
	if u.Scheme != "blossom" && u.Scheme != "nostr" {
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.User != nil {
		return "", "", errors.New("url must not contain user/password")
	}

	owner, err = crypto.ParsePublicKey(u.Host)
	if err != nil {
		return "", "", err
	}

	project = strings.Trim(u.Path, "/")
	if project == "" {
		return "", "", errors.New("url is missing a project name")
	}

	return project, owner, nil
}
