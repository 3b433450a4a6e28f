package image

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xyproto/thumbjit/internal/engine"
)

var sampleCode = []byte{0x2d, 0xe9, 0xf8, 0x4f, 0xbd, 0xe8, 0xf8, 0x8f}

func TestImageRoundTrip(t *testing.T) {
	img := New(sampleCode, engine.ArchARMv7EM, "demo.tj")
	data, err := Marshal(img)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(img, got); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
	if got.Arch != "armv7e-m" {
		t.Errorf("Arch = %q", got.Arch)
	}
}

func TestImageDeterministic(t *testing.T) {
	a, _ := Marshal(New(sampleCode, engine.ArchARMv7M, ""))
	b, _ := Marshal(New(sampleCode, engine.ArchARMv7M, ""))
	if !bytes.Equal(a, b) {
		t.Error("Expected identical images to encode identically")
	}
}

func TestImageDetectsTampering(t *testing.T) {
	img := New(sampleCode, engine.ArchARMv7M, "")
	img.Code[0] ^= 0xFF
	data, err := Marshal(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Expected a digest mismatch, got %v", err)
	}
}

func TestImageCopiesCode(t *testing.T) {
	code := append([]byte(nil), sampleCode...)
	img := New(code, engine.ArchARMv7M, "")
	code[0] = 0
	if err := img.Verify(); err != nil {
		t.Errorf("image shares its caller's buffer: %v", err)
	}
}

func TestImageRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Expected an error for non-CBOR input")
	}
}
