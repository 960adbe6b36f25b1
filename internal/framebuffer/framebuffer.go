// Package framebuffer renders the kernel panic/status banner spec §11's
// domain stack calls for: a small raster image, laid out with
// github.com/fogleman/gg (backed by github.com/golang/freetype and
// golang.org/x/image, exactly the teacher's own mazboot/golang go.mod
// require block), blitted into the VideoCore framebuffer the firmware
// hands back over the property-tag mailbox.
//
// Grounded on the teacher's src/go/mazarin/framebuffer_rpi.go
// (PropertyMessageTag/sendMessages' property-tag buffer layout: size,
// request/response code, one tag per property, NULL-tag terminator) and
// framebuffer_common.go (FramebufferInfo's Width/Height/Pitch/Buf shape,
// the 3-bytes-per-pixel RGB888 format real Raspberry Pi hardware uses,
// as opposed to the QEMU-only bochs-display XRGB8888 path this kernel
// doesn't target). internal/bsp.Mailbox already adapts the teacher's
// mailboxRead/mailboxSend pair; this package only adds the property-tag
// message shape on top of it.
package framebuffer

import (
	"image"
	"image/color"
	"unsafe"

	"github.com/fogleman/gg"
	"github.com/dummycode/gokernel/internal/bsp"
	"github.com/dummycode/gokernel/internal/kernerr"
)

// bytesPerPixel matches the teacher's BYTES_PER_PIXEL = 3 (RGB888), the
// format real Raspberry Pi firmware hands back for this request shape —
// as opposed to the QEMU-only bochs-display path's 4-byte XRGB8888,
// which this kernel never targets.
const bytesPerPixel = 3

// Property tag IDs, named exactly as framebuffer_rpi.go's constants.
const (
	tagSetPhysicalDimensions = 0x00048003
	tagSetVirtualDimensions  = 0x00048004
	tagSetBitsPerPixel       = 0x00048005
	tagAllocateBuffer        = 0x00040001
	tagNull                  = 0
)

const (
	requestCode  = 0x00000000
	responseCode = 0x80000000
)

const bitsPerPixel = bytesPerPixel * 8

// Framebuffer owns the raw VideoCore buffer the firmware allocated for
// this kernel. It holds no software raster; DrawPanicBanner builds a
// gg.Context of the same size on each call and blits it in.
type Framebuffer struct {
	width, height, pitch uint32
	pixels               []byte // unsafe.Slice over the firmware-owned buffer
}

// Init requests a width x height RGB888 framebuffer from the firmware
// over mbox's property channel and wraps the buffer the GPU allocated,
// mirroring framebuffer_rpi.go's sendMessages call sequence: set
// physical dimensions, set virtual dimensions, set depth, allocate
// buffer, each as one tag in a single property-tag message.
func Init(mbox *bsp.Mailbox, width, height uint32) (*Framebuffer, error) {
	msg := buildAllocateMessage(width, height)
	addr, pitch, err := sendAndParse(mbox, msg)
	if err != nil {
		return nil, err
	}

	size := pitch * height
	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	return &Framebuffer{width: width, height: height, pitch: pitch, pixels: buf}, nil
}

// sendAndParse is split out of Init so the message round trip (the only
// hardware-dependent part) is the sole untestable seam; buildAllocateMessage
// and parseAllocateResponse below are pure and host-testable.
func sendAndParse(mbox *bsp.Mailbox, msg []uint32) (addr, pitch uint32, err error) {
	physAddr := uint32(uintptr(unsafe.Pointer(&msg[0])))
	mailboxAddr := physAddr + 0x40000000

	mbox.Write(bsp.PropertyChannel, mailboxAddr)
	mbox.Read(bsp.PropertyChannel)

	return parseAllocateResponse(msg)
}

// buildAllocateMessage constructs the property-tag buffer framebuffer_rpi.go's
// sendMessages assembles by hand: an 8-byte header (total size, request
// code), one tag per property with its value buffer, and a NULL-tag
// terminator. Each tag here is encoded as [id, valueBufferLen, reqCode,
// value words...], the same per-tag shape sendMessages writes.
func buildAllocateMessage(width, height uint32) []uint32 {
	msg := []uint32{
		0, // size, patched below
		requestCode,

		tagSetPhysicalDimensions, 8, requestCode, width, height,
		tagSetVirtualDimensions, 8, requestCode, width, height,
		tagSetBitsPerPixel, 4, requestCode, bitsPerPixel,
		tagAllocateBuffer, 8, requestCode, 16 /* alignment */, 0, /* GPU fills in size */

		tagNull,
	}
	msg[0] = uint32(len(msg)) * 4
	return msg
}

// parseAllocateResponse reads back the virtual width and the allocated
// buffer address the firmware wrote into the same message buffer
// buildAllocateMessage constructed, and returns the address with a pitch
// computed as width*bytesPerPixel (no pitch tag is requested, and the
// returned buffer size is not read). It finds tags by the fixed order
// buildAllocateMessage wrote them (this kernel never needs to handle
// tags arriving in an order other than the one it sent, unlike the
// teacher's general-purpose sendMessages).
func parseAllocateResponse(msg []uint32) (addr, pitch uint32, err error) {
	if msg[1] != responseCode {
		return 0, 0, kernerr.New("framebuffer", "property message response code not set")
	}

	const (
		physDimsTagStart = 2
		virtDimsTagStart = physDimsTagStart + 5
		bppTagStart      = virtDimsTagStart + 5
		allocTagStart    = bppTagStart + 4
	)

	width := msg[virtDimsTagStart+3]
	if width == 0 {
		return 0, 0, kernerr.New("framebuffer", "firmware returned zero width")
	}
	addr = msg[allocTagStart+3]
	if addr == 0 {
		return 0, 0, kernerr.New("framebuffer", "firmware failed to allocate a framebuffer")
	}
	pitch = width * bytesPerPixel
	return addr & 0x3FFFFFFF, pitch, nil
}

// DrawPanicBanner renders msg over a dark background into a gg.Context
// the size of the framebuffer and blits it into the firmware-owned
// buffer. It is the kernel's only screen output besides the UART
// console (spec §11: "panic banner renderer").
func (fb *Framebuffer) DrawPanicBanner(msg string) {
	dc := gg.NewContext(int(fb.width), int(fb.height))
	dc.SetColor(color.RGBA{R: 0x19, G: 0x1B, B: 0x70, A: 0xFF}) // midnight blue
	dc.Clear()
	dc.SetColor(color.White)
	dc.DrawStringWrapped(msg, 32, 32, 0, 0, float64(fb.width)-64, 1.4, gg.AlignLeft)

	blitRGBA(fb.pixels, fb.pitch, dc.Image().(*image.RGBA))
}

// blitRGBA copies an *image.RGBA into a 3-bytes-per-pixel RGB888
// framebuffer row by row, dropping alpha (the firmware's RGB888 format
// has none). Split out from DrawPanicBanner so the pixel-packing
// arithmetic is host-testable against a plain []byte, without the real
// unsafe.Slice over firmware memory DrawPanicBanner uses in production.
func blitRGBA(dst []byte, pitch uint32, src *image.RGBA) {
	bounds := src.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		rowOff := uint32(y) * pitch
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			pixelOff := rowOff + uint32(x)*bytesPerPixel
			if int(pixelOff)+bytesPerPixel > len(dst) {
				continue
			}
			dst[pixelOff+0] = byte(r >> 8)
			dst[pixelOff+1] = byte(g >> 8)
			dst[pixelOff+2] = byte(b >> 8)
		}
	}
}
