// Package blossomclient implements the Blossom HTTP client (spec.md C3):
// content-addressed blob PUT/GET against a Blossom server, authorized by
// a Nostr-signed kind-24242 event carried in the Authorization header.
// Grounded in the same plain net/http PUT/GET pattern the pack's Blossom
// uploader example uses, with the Nostr-auth header layered on top.
package blossomclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"

	"github.com/make-os/git-remote-blossom/crypto"
)

// uploadExpiration matches the fixed expiry tag the original
// implementation embeds in every upload-authorization event.
const uploadExpiration = "1777777777"

// Client talks to a single Blossom server.
type Client struct {
	server string
	keys   *crypto.Keys
	http   *http.Client
}

// New returns a Client for server (e.g. "https://blossom.example.com"),
// signing upload-authorization events with keys.
func New(server string, keys *crypto.Keys) *Client {
	return &Client{
		server: strings.TrimRight(server, "/"),
		keys:   keys,
		http:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Put uploads data, addressed by keyHex (its hex-encoded Blossom key),
// authorized by a signed kind-24242 event (spec.md §4.3).
func (c *Client) Put(data []byte, keyHex string) error {
	auth, err := c.uploadAuthHeader(keyHex)
	if err != nil {
		return errors.Wrap(err, "failed to build upload authorization")
	}

	req, err := http.NewRequest(http.MethodPut, c.server+"/upload", bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to build upload request")
	}
	req.Header.Set("Authorization", "Nostr "+auth)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "upload request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("blossom upload failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Get downloads the blob addressed by keyHex (spec.md §4.3).
func (c *Client) Get(keyHex string) ([]byte, error) {
	resp, err := c.http.Get(c.server + "/" + keyHex)
	if err != nil {
		return nil, errors.Wrap(err, "download request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read download body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blossom download failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("blossom download returned an empty body for %s", keyHex)
	}
	return body, nil
}

// uploadAuthHeader builds and signs the kind-24242 authorization event for
// keyHex, then base64-encodes its compact JSON form (spec.md §4.3).
func (c *Client) uploadAuthHeader(keyHex string) (string, error) {
	evt := nostr.Event{
		Kind:      24242,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   "Upload " + keyHex,
		Tags: nostr.Tags{
			nostr.Tag{"t", "upload"},
			nostr.Tag{"x", keyHex},
			nostr.Tag{"expiration", uploadExpiration},
		},
	}

	if err := c.keys.Sign(&evt); err != nil {
		return "", err
	}

	raw, err := json.Marshal(evt)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal authorization event")
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}
