// Package crypto wraps Nostr key handling: decoding the owner's secret key
// from git config (bech32 nsec or raw hex) and deriving/encoding the public
// key, the way the teacher's crypto package wraps a PublicKey/PrivateKey
// pair behind small value types instead of passing raw strings around.
package crypto

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/pkg/errors"
)

// PublicKey is a 32-byte, x-only secp256k1 public key, hex-encoded the way
// Nostr events carry it in their "pubkey" field.
type PublicKey string

// String returns the hex-encoded public key.
func (pk PublicKey) String() string { return string(pk) }

// Npub bech32-encodes the public key as "npub1...".
func (pk PublicKey) Npub() (string, error) {
	return nip19.EncodePublicKey(string(pk))
}

// Equal compares two public keys by their hex form.
func (pk PublicKey) Equal(o PublicKey) bool {
	return strings.EqualFold(string(pk), string(o))
}

// Keys holds the repository owner's Nostr keypair. Pub is always set; Priv
// is empty for a read-only (fetch-only) session where no secret key was
// configured.
type Keys struct {
	Priv string // hex-encoded secret key, empty if unknown
	Pub  PublicKey
}

// ParseSecretKey decodes a secret key as configured via `nostr.nsec` or
// `nostr.sec`: bech32 "nsec1..." per NIP-19, or a hex string, optionally
// shorter than 64 chars (left-padded with zeros, matching the Python
// original's `'{:>064s}'.format(nsec)` behavior — this lets a small test
// value like "1" stand in for a valid secret key).
func ParseSecretKey(raw string) (*Keys, error) {
	if raw == "" {
		return nil, errors.New("empty secret key")
	}

	var hexKey string
	if strings.HasPrefix(raw, "nsec1") {
		prefix, value, err := nip19.Decode(raw)
		if err != nil {
			return nil, errors.Wrap(err, "invalid nsec")
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("expected nsec, got %s", prefix)
		}
		hexKey = value.(string)
	} else {
		hexKey = fmt.Sprintf("%064s", raw)
		hexKey = strings.ReplaceAll(hexKey, " ", "0")
	}

	pub, err := nostr.GetPublicKey(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive public key")
	}

	return &Keys{Priv: hexKey, Pub: PublicKey(pub)}, nil
}

// ParsePublicKey decodes the remote's identity from the URL host: a
// bech32 "npub1..." per NIP-19.
func ParsePublicKey(npub string) (PublicKey, error) {
	if !strings.HasPrefix(npub, "npub1") {
		return "", fmt.Errorf("invalid public key %q: expected npub1 prefix", npub)
	}
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return "", errors.Wrap(err, "invalid npub")
	}
	if prefix != "npub" {
		return "", fmt.Errorf("expected npub, got %s", prefix)
	}
	return PublicKey(value.(string)), nil
}

// Sign signs an event's serialized content with the owner's secret key and
// fills in its ID/PubKey/Sig fields, delegating to go-nostr's own signer.
func (k *Keys) Sign(evt *nostr.Event) error {
	if k.Priv == "" {
		return errors.New("no secret key available for signing")
	}
	evt.PubKey = string(k.Pub)
	return evt.Sign(k.Priv)
}
