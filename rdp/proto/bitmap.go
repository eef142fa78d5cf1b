package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/xBounceIT/janus/rdp/frame"
)

const bitmapUpdateType = 0x0001

// TS_BITMAP_DATA flags.
const (
	bitmapCompression        = 0x0001
	noBitmapCompressionHdr   = 0x0400
	compressedDataHeaderSize = 8
)

// BitmapRect is the destination of one blitted bitmap, in inclusive
// screen coordinates.
type BitmapRect struct {
	Left   uint16
	Top    uint16
	Right  uint16
	Bottom uint16
}

// parseBitmapUpdate decodes a TS_UPDATE_BITMAP payload, blits each
// rectangle into the canvas, and returns the touched regions.
func parseBitmapUpdate(c *frame.Canvas, data []byte) ([]BitmapRect, error) {
	r := &reader{buf: data}
	updateType, err := r.u16le()
	if err != nil {
		return nil, &ParseError{Field: "updateType", Err: err}
	}
	if updateType != bitmapUpdateType {
		return nil, &ParseError{Field: "updateType", Err: fmt.Errorf("expected 0x%04X, got 0x%04X", bitmapUpdateType, updateType)}
	}
	count, err := r.u16le()
	if err != nil {
		return nil, &ParseError{Field: "numberRectangles", Err: err}
	}

	rects := make([]BitmapRect, 0, count)
	for i := 0; i < int(count); i++ {
		var f [8]uint16
		for j := range f {
			if f[j], err = r.u16le(); err != nil {
				return nil, &ParseError{Field: "bitmapData", Err: err}
			}
		}
		destLeft, destTop, destRight, destBottom := f[0], f[1], f[2], f[3]
		width, height, bpp, flags := f[4], f[5], f[6], f[7]

		length, err := r.u16le()
		if err != nil {
			return nil, &ParseError{Field: "bitmapLength", Err: err}
		}
		stream, err := r.bytes(int(length))
		if err != nil {
			return nil, &ParseError{Field: "bitmapDataStream", Err: err}
		}

		pixelSize, err := bitmapPixelSize(bpp)
		if err != nil {
			return nil, err
		}

		raw := stream
		if flags&bitmapCompression != 0 {
			if flags&noBitmapCompressionHdr == 0 {
				if len(stream) < compressedDataHeaderSize {
					return nil, &ParseError{Field: "compressedDataHeader", Err: errTruncated}
				}
				stream = stream[compressedDataHeaderSize:]
			}
			if raw, err = decompressRLE(stream, int(width), int(height), pixelSize); err != nil {
				return nil, err
			}
		} else if len(raw) < int(width)*int(height)*pixelSize {
			return nil, &ParseError{Field: "bitmapDataStream", Err: errTruncated}
		}

		blitBitmap(c, raw, destLeft, destTop, destRight, destBottom, width, height, bpp, pixelSize)
		rects = append(rects, BitmapRect{Left: destLeft, Top: destTop, Right: destRight, Bottom: destBottom})
	}
	return rects, nil
}

// BuildBitmapUpdate encodes a TS_UPDATE_BITMAP payload with one
// uncompressed 32bpp rectangle. pixels are top-down BGRA rows covering
// the inclusive destination rectangle; the wire format stores rows
// bottom-up.
func BuildBitmapUpdate(rect BitmapRect, pixels []byte) []byte {
	width := int(rect.Right) - int(rect.Left) + 1
	height := int(rect.Bottom) - int(rect.Top) + 1
	rowLen := width * 4

	b := make([]byte, 0, 22+len(pixels))
	b = binary.LittleEndian.AppendUint16(b, bitmapUpdateType)
	b = binary.LittleEndian.AppendUint16(b, 1) // numberRectangles
	b = binary.LittleEndian.AppendUint16(b, rect.Left)
	b = binary.LittleEndian.AppendUint16(b, rect.Top)
	b = binary.LittleEndian.AppendUint16(b, rect.Right)
	b = binary.LittleEndian.AppendUint16(b, rect.Bottom)
	b = binary.LittleEndian.AppendUint16(b, uint16(width))
	b = binary.LittleEndian.AppendUint16(b, uint16(height))
	b = binary.LittleEndian.AppendUint16(b, 32) // bitsPerPixel
	b = binary.LittleEndian.AppendUint16(b, 0)  // flags: uncompressed
	b = binary.LittleEndian.AppendUint16(b, uint16(len(pixels)))
	for y := height - 1; y >= 0; y-- {
		b = append(b, pixels[y*rowLen:(y+1)*rowLen]...)
	}
	return b
}

func bitmapPixelSize(bpp uint16) (int, error) {
	switch bpp {
	case 15, 16:
		return 2, nil
	case 24:
		return 3, nil
	case 32:
		return 4, nil
	default:
		return 0, fmt.Errorf("rdp: unsupported bitmap depth %d", bpp)
	}
}

// blitBitmap copies a bottom-up bitmap into the canvas, converting to
// the canvas's 4-byte pixel layout. The bitmap width and height may
// exceed the destination rectangle because of padding; the copy clips
// to both the rectangle and the canvas bounds.
func blitBitmap(c *frame.Canvas, raw []byte, destLeft, destTop, destRight, destBottom, width, height uint16, bpp uint16, pixelSize int) {
	dst := c.Data()
	stride := c.Stride()

	copyW := min(int(width), int(destRight)-int(destLeft)+1)
	copyH := min(int(height), int(destBottom)-int(destTop)+1)
	copyW = min(copyW, int(c.Width())-int(destLeft))
	copyH = min(copyH, int(c.Height())-int(destTop))
	if copyW <= 0 || copyH <= 0 {
		return
	}

	srcRow := int(width) * pixelSize
	for y := 0; y < copyH; y++ {
		// Bitmap rows run bottom to top.
		src := raw[(int(height)-1-y)*srcRow:]
		out := dst[(int(destTop)+y)*stride+int(destLeft)*4:]
		for x := 0; x < copyW; x++ {
			b, g, r := convertPixel(src[x*pixelSize:], bpp)
			if c.Format() == frame.FormatBGRA {
				out[x*4+0] = b
				out[x*4+1] = g
				out[x*4+2] = r
			} else {
				out[x*4+0] = r
				out[x*4+1] = g
				out[x*4+2] = b
			}
			out[x*4+3] = 0xFF
		}
	}
}

// convertPixel expands one source pixel to 8-bit blue, green, red.
func convertPixel(p []byte, bpp uint16) (b, g, r byte) {
	switch bpp {
	case 15:
		v := uint16(p[0]) | uint16(p[1])<<8
		r = scale5(byte(v >> 10 & 0x1F))
		g = scale5(byte(v >> 5 & 0x1F))
		b = scale5(byte(v & 0x1F))
	case 16:
		v := uint16(p[0]) | uint16(p[1])<<8
		r = scale5(byte(v >> 11 & 0x1F))
		g = scale6(byte(v >> 5 & 0x3F))
		b = scale5(byte(v & 0x1F))
	default: // 24 and 32bpp store blue first
		b, g, r = p[0], p[1], p[2]
	}
	return
}

func scale5(v byte) byte { return v<<3 | v>>2 }
func scale6(v byte) byte { return v<<2 | v>>4 }
