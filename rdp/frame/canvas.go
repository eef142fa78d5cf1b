package frame

// PixelFormat identifies the byte order of a 4-byte-per-pixel image.
type PixelFormat int

// Canvas pixel formats. RDP bitmap data arrives in blue-first order, so
// sessions decode into FormatBGRA; FormatRGBA exists for sources that are
// already in output order.
const (
	FormatBGRA PixelFormat = iota
	FormatRGBA
)

const bytesPerPixel = 4

// Canvas is a session's decoded desktop image. Each session owns exactly
// one Canvas; the active stage mutates it as bitmap updates arrive and the
// encoder reads regions out of it at frame-emission time. It is not safe
// for concurrent use.
type Canvas struct {
	width  uint16
	height uint16
	format PixelFormat
	data   []byte
}

// NewCanvas allocates a zeroed canvas of the given dimensions.
func NewCanvas(format PixelFormat, width, height uint16) *Canvas {
	return &Canvas{
		width:  width,
		height: height,
		format: format,
		data:   make([]byte, int(width)*int(height)*bytesPerPixel),
	}
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() uint16 { return c.width }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() uint16 { return c.height }

// Format returns the pixel byte order of the backing data.
func (c *Canvas) Format() PixelFormat { return c.format }

// Stride returns the number of bytes per row.
func (c *Canvas) Stride() int { return int(c.width) * bytesPerPixel }

// BytesPerPixel returns the pixel size in bytes. Always 4.
func (c *Canvas) BytesPerPixel() int { return bytesPerPixel }

// Data exposes the backing pixel buffer for in-place decoding.
func (c *Canvas) Data() []byte { return c.data }
