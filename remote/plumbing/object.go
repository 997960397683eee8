// Package plumbing implements the repo-agnostic parts of the object
// packaging scheme from spec.md §3/§4.6: the EncodedObject wire framing,
// its zlib codec, and the dependency-order graph walks the transfer engine
// needs. It mirrors the teacher's remote/plumbing package, which likewise
// holds pure object-graph helpers parametrized over a GitRepo interface
// rather than a concrete repository type.
package plumbing

import (
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/make-os/git-remote-blossom/util"
)

// ObjectType is one of the four git object kinds carried in an
// EncodedObject's header.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

// BlossomKeyLen is the length, in bytes, of a Blossom key (spec.md §3).
const BlossomKeyLen = 32

// BlossomKey is the 32-byte SHA-256 digest of an EncodedObject's compressed
// bytes; its hex form is the Blossom URL path.
type BlossomKey [BlossomKeyLen]byte

// BlossomKeyFromBytes copies b into a BlossomKey. b must be exactly
// BlossomKeyLen bytes.
func BlossomKeyFromBytes(b []byte) (BlossomKey, error) {
	var k BlossomKey
	if len(b) != BlossomKeyLen {
		return k, fmt.Errorf("blossom key must be %d bytes, got %d", BlossomKeyLen, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// BlossomKeyFromHex decodes a hex-encoded Blossom key.
func BlossomKeyFromHex(s string) (BlossomKey, error) {
	var k BlossomKey
	b, err := util.FromHex(s)
	if err != nil {
		return k, err
	}
	return BlossomKeyFromBytes(b)
}

func (k BlossomKey) Hex() string  { return util.ToHex(k[:]) }
func (k BlossomKey) String() string { return k.Hex() }
func (k BlossomKey) Bytes() []byte  { return k[:] }

// IsZero reports whether k is the zero-value key (never computed/stored).
func (k BlossomKey) IsZero() bool { return k == BlossomKey{} }

// EncodedObject is the decoded form of the bytes stored on a Blossom
// server: the object's type and length header, its raw body, and the
// Blossom keys of whatever referenced_objects() yields for it, in the
// same stable order used by both encode and decode.
type EncodedObject struct {
	Type    ObjectType
	Raw     []byte
	DepKeys []BlossomKey
}

// EncodeHeader renders the "<type> SP <len> NUL" header that prefixes an
// object's raw bytes on the wire.
func EncodeHeader(t ObjectType, length int) []byte {
	return []byte(fmt.Sprintf("%s %d\x00", t, length))
}

// Frame assembles the pre-compression byte sequence for obj: header, raw
// body, then each dependency's Blossom key, in order.
func Frame(obj EncodedObject) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(EncodeHeader(obj.Type, len(obj.Raw)))
	buf.Write(obj.Raw)
	for _, k := range obj.DepKeys {
		buf.Write(k.Bytes())
	}
	return buf.Bytes()
}

// Compress zlib-compresses framed object bytes before upload.
func Compress(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	w := zlib.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "zlib compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "zlib compress")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "zlib decompress")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "zlib decompress")
	}
	return out, nil
}

// BlossomKeyOf computes the content-address of data (spec.md §3: the
// Blossom key hashes the *compressed*, stored bytes, never the raw object).
func BlossomKeyOf(data []byte) BlossomKey {
	sum := sha256.Sum256(data)
	return BlossomKey(sum)
}

// ParseDecompressed splits the decompressed payload of a downloaded blob
// back into its header, raw object body, and trailing dependency-key bytes,
// per spec.md §4.6's download task.
func ParseDecompressed(data []byte) (t ObjectType, raw []byte, depKeyBytes []byte, err error) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", nil, nil, errors.New("malformed object: missing NUL header terminator")
	}
	header := string(data[:idx])
	tail := data[idx+1:]

	var typeStr string
	var length int
	if _, err := fmt.Sscanf(header, "%s %d", &typeStr, &length); err != nil {
		return "", nil, nil, errors.Wrap(err, "malformed object header")
	}
	if length > len(tail) {
		return "", nil, nil, errors.New("malformed object: length exceeds payload")
	}

	return ObjectType(typeStr), tail[:length], tail[length:], nil
}

// SplitDepKeys consumes len(expected) Blossom keys, 32 bytes apiece, off
// the front of depKeyBytes, erroring if any bytes remain afterward (spec.md
// §4.6: "After all deps are consumed, tail_keys must be empty").
func SplitDepKeys(depKeyBytes []byte, expected int) ([]BlossomKey, error) {
	if len(depKeyBytes) != expected*BlossomKeyLen {
		return nil, fmt.Errorf(
			"dependency key bytes mismatch: got %d bytes for %d expected dependencies",
			len(depKeyBytes), expected)
	}
	keys := make([]BlossomKey, expected)
	for i := 0; i < expected; i++ {
		k, _ := BlossomKeyFromBytes(depKeyBytes[i*BlossomKeyLen : (i+1)*BlossomKeyLen])
		keys[i] = k
	}
	return keys, nil
}
