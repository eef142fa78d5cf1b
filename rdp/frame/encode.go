package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// Codec identifies the encoding of a frame patch.
type Codec int

// Patch codecs. Raw carries uncompressed RGBA; JPEG carries a baseline
// JPEG encoded at the quality chosen by the adaptive controller.
const (
	CodecRaw Codec = iota
	CodecJPEG
)

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// ErrRectOutsideCanvas is returned when a rectangle does not lie fully
// within the canvas. Extraction failures are local: the caller skips the
// rect rather than ending the session.
var ErrRectOutsideCanvas = errors.New("frame: rect outside canvas bounds")

// ExtractRGBA copies exactly Width*Height pixels of the rectangle out of
// the canvas in R,G,B,A order. A canvas already in RGBA order is copied
// directly; any other 4-byte layout has red and blue swapped on the way
// out. The rect must lie fully within the canvas.
func ExtractRGBA(c *Canvas, r Rect) ([]byte, error) {
	if c.width == 0 || c.height == 0 || r.Width == 0 || r.Height == 0 {
		return nil, ErrRectOutsideCanvas
	}
	if r.X >= c.width || r.Y >= c.height {
		return nil, ErrRectOutsideCanvas
	}
	if r.Width > c.width-r.X || r.Height > c.height-r.Y {
		return nil, ErrRectOutsideCanvas
	}

	data := c.data
	stride := c.Stride()
	rgba := make([]byte, 0, int(r.Width)*int(r.Height)*bytesPerPixel)

	for row := int(r.Y); row < int(r.Y)+int(r.Height); row++ {
		rowStart := row*stride + int(r.X)*bytesPerPixel
		rowEnd := rowStart + int(r.Width)*bytesPerPixel
		if rowEnd > len(data) {
			return nil, ErrRectOutsideCanvas
		}

		rowData := data[rowStart:rowEnd]
		if c.format == FormatRGBA {
			rgba = append(rgba, rowData...)
			continue
		}
		for px := 0; px < len(rowData); px += bytesPerPixel {
			rgba = append(rgba, rowData[px+2], rowData[px+1], rowData[px], rowData[px+3])
		}
	}

	return rgba, nil
}

// EncodeRect encodes one rectangle of the canvas with the given codec.
// JPEG quality is only consulted for CodecJPEG.
func EncodeRect(c *Canvas, r Rect, codec Codec, jpegQuality int) ([]byte, error) {
	rgba, err := ExtractRGBA(c, r)
	if err != nil {
		return nil, err
	}
	return EncodeRGBA(rgba, r.Width, r.Height, codec, jpegQuality)
}

// EncodeRGBA encodes already-extracted RGBA pixels with the given codec,
// letting a caller that holds the pixels retry with a different codec
// without extracting again.
func EncodeRGBA(rgba []byte, width, height uint16, codec Codec, jpegQuality int) ([]byte, error) {
	if codec == CodecRaw {
		return rgba, nil
	}

	img := &image.RGBA{
		Pix:    rgba,
		Stride: int(width) * bytesPerPixel,
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("frame: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
