// Package nostrclient implements the Nostr relay client (spec.md C4):
// querying and publishing kind-30618 replaceable ref-state events against
// a single relay, via github.com/nbd-wtf/go-nostr.
package nostrclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"
)

// StateEventKind is the replaceable event kind that carries ref/symref
// state for a repository (spec.md §3 StateEvent).
const StateEventKind = 30618

// dialTimeout bounds how long Connect spends retrying the initial
// websocket handshake before giving up.
const dialTimeout = 30 * time.Second

// Client wraps a single relay connection.
type Client struct {
	relay *nostr.Relay
}

// Connect dials url, retrying the handshake with bounded exponential
// backoff (the only retry point the spec allows — see spec.md §4.3's "no
// retries" note on the Blossom client, which does not extend to the
// transport-level relay dial).
func Connect(ctx context.Context, url string) (*Client, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = dialTimeout

	var relay *nostr.Relay
	err := backoff.Retry(func() error {
		r, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			return err
		}
		relay = r
		return nil
	}, b)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to relay %s", url)
	}

	return &Client{relay: relay}, nil
}

// Close closes the underlying relay connection.
func (c *Client) Close() error {
	return c.relay.Close()
}

// QueryState fetches the single kind-30618 event published by author for
// project, asserting at most one result exists (spec.md §4.4 query_state).
// It returns nil, nil if no such event exists.
func (c *Client) QueryState(ctx context.Context, authorPubkeyHex, project string) (*nostr.Event, error) {
	filter := nostr.Filter{
		Kinds:   []int{StateEventKind},
		Authors: []string{authorPubkeyHex},
		Tags:    nostr.TagMap{"d": []string{project}},
	}

	events, err := c.relay.QuerySync(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "relay query failed")
	}

	if len(events) == 0 {
		return nil, nil
	}
	if len(events) > 1 {
		return nil, errors.Errorf("expected at most one ref-state event for project %q, got %d", project, len(events))
	}
	return events[0], nil
}

// Publish sends a signed event to the relay. Ack waiting is best-effort:
// the relay protocol's OK frame is not required for success here, matching
// the known limitation noted in spec.md §4.4.
func (c *Client) Publish(ctx context.Context, evt nostr.Event) error {
	if err := c.relay.Publish(ctx, evt); err != nil {
		return errors.Wrap(err, "failed to publish event")
	}
	return nil
}
