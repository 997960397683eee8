package crypto_test

import (
	"testing"

	"github.com/make-os/git-remote-blossom/crypto"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/require"
)

func TestParseSecretKeyHex(t *testing.T) {
	keys, err := crypto.ParseSecretKey("1")
	require.NoError(t, err)
	require.Len(t, keys.Priv, 64)
	require.NotEmpty(t, keys.Pub)
}

func TestParseSecretKeyNsec(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	require.NoError(t, err)

	keys, err := crypto.ParseSecretKey(nsec)
	require.NoError(t, err)
	require.Equal(t, sk, keys.Priv)

	wantPub, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	require.Equal(t, wantPub, keys.Pub.String())
}

func TestParsePublicKeyRequiresNpubPrefix(t *testing.T) {
	_, err := crypto.ParsePublicKey("not-an-npub")
	require.Error(t, err)
}

func TestParsePublicKeyRoundTrip(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pubHex, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	npub, err := crypto.PublicKey(pubHex).Npub()
	require.NoError(t, err)

	pk, err := crypto.ParsePublicKey(npub)
	require.NoError(t, err)
	require.True(t, pk.Equal(crypto.PublicKey(pubHex)))
}

func TestSignFailsWithoutSecretKey(t *testing.T) {
	pubHex, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	keys := &crypto.Keys{Pub: crypto.PublicKey(pubHex)}
	evt := &nostr.Event{Kind: 30618}
	require.Error(t, keys.Sign(evt))
}
