// Completion: 100% - Code image format complete
package image

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/xyproto/thumbjit/internal/engine"
)

// FormatVersion is written into every image
const FormatVersion = 1

// ErrDigestMismatch is returned when an image's code does not hash to
// its recorded digest
var ErrDigestMismatch = errors.New("image: digest mismatch")

// Image wraps a compiled blob for tooling. The code itself is raw
// Thumb-2 with no header; the image only adds what a loader or a
// disassembler wants to know about it.
type Image struct {
	Format int      `cbor:"1,keyasint"`
	Arch   string   `cbor:"2,keyasint"`
	Code   []byte   `cbor:"3,keyasint"`
	Digest [32]byte `cbor:"4,keyasint"`
	Source string   `cbor:"5,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// New builds an image for code compiled for arch
func New(code []byte, arch engine.Arch, source string) *Image {
	return &Image{
		Format: FormatVersion,
		Arch:   arch.String(),
		Code:   append([]byte(nil), code...),
		Digest: blake2b.Sum256(code),
		Source: source,
	}
}

// Marshal serializes an image to canonical CBOR, so equal images always
// produce equal bytes
func Marshal(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Unmarshal deserializes an image and checks its digest
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Format != FormatVersion {
		return nil, fmt.Errorf("image: unsupported format version %d", img.Format)
	}
	if _, err := engine.ParseArch(img.Arch); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if err := img.Verify(); err != nil {
		return nil, err
	}
	return &img, nil
}

// Verify checks the code against the digest
func (img *Image) Verify() error {
	sum := blake2b.Sum256(img.Code)
	if !bytes.Equal(sum[:], img.Digest[:]) {
		return fmt.Errorf("%w: recorded %x, code hashes to %x", ErrDigestMismatch, img.Digest[:8], sum[:8])
	}
	return nil
}
