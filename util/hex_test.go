package util_test

import (
	"testing"

	"github.com/make-os/git-remote-blossom/util"
	"github.com/stretchr/testify/require"
)

func TestToHexAndFromHex(t *testing.T) {
	b := []byte{0xde, 0xad, 0xbe, 0xef}
	h := util.ToHex(b)
	require.Equal(t, "deadbeef", h)

	out, err := util.FromHex(h)
	require.NoError(t, err)
	require.Equal(t, b, out)
}

func TestIsZeroHash(t *testing.T) {
	require.True(t, util.IsZeroHash("0000000000000000000000000000000000000000"))
	require.False(t, util.IsZeroHash("a000000000000000000000000000000000000000"))
	require.False(t, util.IsZeroHash(""))
}

func TestSignal(t *testing.T) {
	s := util.NewSignal()
	require.False(t, s.Fired())

	done := make(chan struct{})
	go func() {
		<-s.Done()
		close(done)
	}()

	s.Fire()
	s.Fire() // must not panic or deadlock on repeat
	<-done
	require.True(t, s.Fired())
}
