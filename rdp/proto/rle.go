package proto

import (
	"errors"
	"fmt"
)

// Interleaved RLE order codes (MS-RDPBCGR 2.2.9.1.1.3.1.2.4). Regular
// orders carry a 3-bit code, lite orders a 4-bit code, and mega/special
// orders use the whole header byte.
const (
	rleRegularBGRun      = 0x0
	rleRegularFGRun      = 0x1
	rleRegularFGBGImage  = 0x2
	rleRegularColorRun   = 0x3
	rleRegularColorImage = 0x4

	rleLiteSetFGFGRun     = 0xC
	rleLiteSetFGFGBGImage = 0xD
	rleLiteDitheredRun    = 0xE

	rleMegaBGRun          = 0xF0
	rleMegaFGRun          = 0xF1
	rleMegaFGBGImage      = 0xF2
	rleMegaColorRun       = 0xF3
	rleMegaColorImage     = 0xF4
	rleMegaSetFGFGRun     = 0xF6
	rleMegaSetFGFGBGImage = 0xF7
	rleMegaDitheredRun    = 0xF8

	rleSpecialFGBG1 = 0xF9
	rleSpecialFGBG2 = 0xFA
	rleWhite        = 0xFD
	rleBlack        = 0xFE
)

var errRLECorrupt = errors.New("rdp: corrupt RLE bitmap data")

// rleDecoder decompresses one bitmap's interleaved RLE stream into raw
// pixels in stream order, which for RDP bitmaps is bottom-up. The caller
// flips rows while blitting, exactly as it does for uncompressed data.
type rleDecoder struct {
	src    []byte
	pos    int
	out    []byte
	outPos int

	pixelSize int // 2 for 15/16bpp, 3 for 24bpp
	rowDelta  int
	fgPel     uint32
}

// decompressRLE expands data into width*height pixels of pixelSize bytes.
func decompressRLE(data []byte, width, height, pixelSize int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errRLECorrupt
	}
	d := &rleDecoder{
		src:       data,
		out:       make([]byte, width*height*pixelSize),
		pixelSize: pixelSize,
		rowDelta:  width * pixelSize,
		fgPel:     0xFFFFFFFF,
	}
	if err := d.run(); err != nil {
		return nil, err
	}
	return d.out, nil
}

func (d *rleDecoder) byte() (byte, error) {
	if d.pos >= len(d.src) {
		return 0, errRLECorrupt
	}
	b := d.src[d.pos]
	d.pos++
	return b, nil
}

func (d *rleDecoder) pixel() (uint32, error) {
	if d.pos+d.pixelSize > len(d.src) {
		return 0, errRLECorrupt
	}
	var p uint32
	for i := d.pixelSize - 1; i >= 0; i-- {
		p = p<<8 | uint32(d.src[d.pos+i])
	}
	d.pos += d.pixelSize
	return p, nil
}

// firstLine reports whether the write cursor is still on the first
// decoded scanline, where there is no previous row to reference.
func (d *rleDecoder) firstLine() bool {
	return d.outPos < d.rowDelta
}

// prevPixel reads the pixel one scanline back from the write cursor.
func (d *rleDecoder) prevPixel() uint32 {
	off := d.outPos - d.rowDelta
	var p uint32
	for i := d.pixelSize - 1; i >= 0; i-- {
		p = p<<8 | uint32(d.out[off+i])
	}
	return p
}

func (d *rleDecoder) writePixel(p uint32) error {
	if d.outPos+d.pixelSize > len(d.out) {
		return errRLECorrupt
	}
	for i := 0; i < d.pixelSize; i++ {
		d.out[d.outPos+i] = byte(p >> (8 * i))
	}
	d.outPos += d.pixelSize
	return nil
}

// writeFgBgPixels expands count pixels from a bitmask: a set bit writes
// prev^fg (fg on the first line), a clear bit writes prev (black on the
// first line).
func (d *rleDecoder) writeFgBgPixels(count int, mask byte) error {
	for bit := 0; bit < count; bit++ {
		var p uint32
		if d.firstLine() {
			if mask&(1<<bit) != 0 {
				p = d.fgPel
			}
		} else {
			p = d.prevPixel()
			if mask&(1<<bit) != 0 {
				p ^= d.fgPel
			}
		}
		if err := d.writePixel(p); err != nil {
			return err
		}
	}
	return nil
}

// codeID extracts the order code from a header byte.
func codeID(hdr byte) byte {
	if hdr&0xC0 != 0xC0 {
		return hdr >> 5
	}
	if hdr&0xF0 == 0xF0 {
		return hdr
	}
	return hdr >> 4
}

// runLength extracts the run length for the given code, consuming
// extension bytes as needed. FGBG image run fields count 8-pixel units.
func (d *rleDecoder) runLength(code, hdr byte) (int, error) {
	switch code {
	case rleRegularFGBGImage:
		n := int(hdr & 0x1F)
		if n == 0 {
			b, err := d.byte()
			return int(b) + 1, err
		}
		return n * 8, nil
	case rleLiteSetFGFGBGImage:
		n := int(hdr & 0x0F)
		if n == 0 {
			b, err := d.byte()
			return int(b) + 1, err
		}
		return n * 8, nil
	case rleRegularBGRun, rleRegularFGRun, rleRegularColorRun, rleRegularColorImage:
		n := int(hdr & 0x1F)
		if n == 0 {
			b, err := d.byte()
			return int(b) + 32, err
		}
		return n, nil
	case rleLiteSetFGFGRun, rleLiteDitheredRun:
		n := int(hdr & 0x0F)
		if n == 0 {
			b, err := d.byte()
			return int(b) + 16, err
		}
		return n, nil
	case rleMegaBGRun, rleMegaFGRun, rleMegaFGBGImage, rleMegaColorRun,
		rleMegaColorImage, rleMegaSetFGFGRun, rleMegaSetFGFGBGImage, rleMegaDitheredRun:
		lo, err := d.byte()
		if err != nil {
			return 0, err
		}
		hi, err := d.byte()
		if err != nil {
			return 0, err
		}
		return int(lo) | int(hi)<<8, nil
	default:
		return 0, nil
	}
}

func (d *rleDecoder) run() error {
	insertFgPel := false

	for d.pos < len(d.src) {
		hdr, err := d.byte()
		if err != nil {
			return err
		}
		code := codeID(hdr)
		n, err := d.runLength(code, hdr)
		if err != nil {
			return err
		}

		switch code {
		case rleRegularBGRun, rleMegaBGRun:
			if insertFgPel && n > 0 {
				var p uint32
				if d.firstLine() {
					p = d.fgPel
				} else {
					p = d.prevPixel() ^ d.fgPel
				}
				if err := d.writePixel(p); err != nil {
					return err
				}
				n--
			}
			for ; n > 0; n-- {
				var p uint32
				if !d.firstLine() {
					p = d.prevPixel()
				}
				if err := d.writePixel(p); err != nil {
					return err
				}
			}
			insertFgPel = true
			continue

		case rleRegularFGRun, rleMegaFGRun, rleLiteSetFGFGRun, rleMegaSetFGFGRun:
			if code == rleLiteSetFGFGRun || code == rleMegaSetFGFGRun {
				if d.fgPel, err = d.pixel(); err != nil {
					return err
				}
			}
			for ; n > 0; n-- {
				var p uint32
				if d.firstLine() {
					p = d.fgPel
				} else {
					p = d.prevPixel() ^ d.fgPel
				}
				if err := d.writePixel(p); err != nil {
					return err
				}
			}

		case rleLiteDitheredRun, rleMegaDitheredRun:
			pixelA, err := d.pixel()
			if err != nil {
				return err
			}
			pixelB, err := d.pixel()
			if err != nil {
				return err
			}
			for ; n > 0; n-- {
				if err := d.writePixel(pixelA); err != nil {
					return err
				}
				if err := d.writePixel(pixelB); err != nil {
					return err
				}
			}

		case rleRegularFGBGImage, rleMegaFGBGImage, rleLiteSetFGFGBGImage, rleMegaSetFGFGBGImage:
			if code == rleLiteSetFGFGBGImage || code == rleMegaSetFGFGBGImage {
				if d.fgPel, err = d.pixel(); err != nil {
					return err
				}
			}
			for n > 0 {
				mask, err := d.byte()
				if err != nil {
					return err
				}
				count := min(n, 8)
				if err := d.writeFgBgPixels(count, mask); err != nil {
					return err
				}
				n -= count
			}

		case rleRegularColorRun, rleMegaColorRun:
			p, err := d.pixel()
			if err != nil {
				return err
			}
			for ; n > 0; n-- {
				if err := d.writePixel(p); err != nil {
					return err
				}
			}

		case rleRegularColorImage, rleMegaColorImage:
			for ; n > 0; n-- {
				p, err := d.pixel()
				if err != nil {
					return err
				}
				if err := d.writePixel(p); err != nil {
					return err
				}
			}

		case rleSpecialFGBG1:
			if err := d.writeFgBgPixels(8, 0x03); err != nil {
				return err
			}
		case rleSpecialFGBG2:
			if err := d.writeFgBgPixels(8, 0x05); err != nil {
				return err
			}
		case rleWhite:
			if err := d.writePixel(0xFFFFFFFF); err != nil {
				return err
			}
		case rleBlack:
			if err := d.writePixel(0); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: order 0x%02X", errRLECorrupt, hdr)
		}

		insertFgPel = false
	}

	if d.outPos != len(d.out) {
		return fmt.Errorf("%w: decoded %d of %d bytes", errRLECorrupt, d.outPos, len(d.out))
	}
	return nil
}
