package framebuffer

import (
	"image"
	"image/color"
	"testing"
)

func TestBuildAllocateMessageEndsWithNullTagAndCorrectSize(t *testing.T) {
	msg := buildAllocateMessage(640, 480)

	if msg[len(msg)-1] != tagNull {
		t.Fatalf("last word = %#x, want NULL tag", msg[len(msg)-1])
	}
	if msg[0] != uint32(len(msg))*4 {
		t.Fatalf("header size = %d, want %d", msg[0], len(msg)*4)
	}
	if msg[1] != requestCode {
		t.Fatalf("header req/res code = %#x, want requestCode", msg[1])
	}
}

func TestParseAllocateResponseReadsWidthAndAddress(t *testing.T) {
	msg := buildAllocateMessage(640, 480)
	msg[1] = responseCode
	// allocTagStart+3 is the allocate-buffer tag's address word.
	const allocTagStart = 2 + 5 + 5 + 4
	msg[allocTagStart+3] = 0x40100000

	addr, pitch, err := parseAllocateResponse(msg)
	if err != nil {
		t.Fatalf("parseAllocateResponse failed: %v", err)
	}
	if addr != 0x00100000 {
		t.Fatalf("addr = %#x, want %#x (top bus-alias bits masked)", addr, 0x00100000)
	}
	if pitch != 640*bytesPerPixel {
		t.Fatalf("pitch = %d, want %d", pitch, 640*bytesPerPixel)
	}
}

func TestParseAllocateResponseRejectsMissingResponseCode(t *testing.T) {
	msg := buildAllocateMessage(640, 480)

	if _, _, err := parseAllocateResponse(msg); err == nil {
		t.Fatal("expected error when response code was never set")
	}
}

func TestParseAllocateResponseRejectsZeroAddress(t *testing.T) {
	msg := buildAllocateMessage(640, 480)
	msg[1] = responseCode
	// The request carries the alignment (16) in the address word; the
	// firmware leaving a zero there means no buffer was allocated.
	const allocTagStart = 2 + 5 + 5 + 4
	msg[allocTagStart+3] = 0

	if _, _, err := parseAllocateResponse(msg); err == nil {
		t.Fatal("expected error when firmware returns a zero framebuffer address")
	}
}

func TestBlitRGBAPacksRGB888RowsAtPitch(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0xFF})
	img.Set(1, 0, color.RGBA{R: 0x44, G: 0x55, B: 0x66, A: 0xFF})
	img.Set(0, 1, color.RGBA{R: 0x77, G: 0x88, B: 0x99, A: 0xFF})

	const pitch = 8 // wider than 2*3 bytes, to exercise pitch padding
	dst := make([]byte, pitch*2)
	blitRGBA(dst, pitch, img)

	want := []byte{0x11, 0x22, 0x33}
	if got := dst[0:3]; string(got) != string(want) {
		t.Fatalf("pixel(0,0) = % x, want % x", got, want)
	}
	want = []byte{0x44, 0x55, 0x66}
	if got := dst[3:6]; string(got) != string(want) {
		t.Fatalf("pixel(1,0) = % x, want % x", got, want)
	}
	want = []byte{0x77, 0x88, 0x99}
	if got := dst[pitch : pitch+3]; string(got) != string(want) {
		t.Fatalf("pixel(0,1) = % x, want % x", got, want)
	}
}

func TestBlitRGBAIgnoresOutOfBoundsRows(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	dst := make([]byte, 4) // far too small for a 4x4 image

	// Must not panic despite the undersized destination.
	blitRGBA(dst, 12, img)
}
