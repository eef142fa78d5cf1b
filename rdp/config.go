package rdp

import "time"

// Connection and lifecycle timeouts.
const (
	connectTimeout = 10 * time.Second
	closeTimeout   = 2 * time.Second
)

// Defaults applied by withDefaults.
const (
	defaultClientName     = "Janus"
	defaultKeyboardLayout = 0x0409 // US English
	defaultDesktopWidth   = 1280
	defaultDesktopHeight  = 800
)

// Config describes one session. Immutable for the session's lifetime.
type Config struct {
	Host     string
	Port     uint16
	Username string
	Password string
	Domain   string

	// Desired desktop dimensions. The server may grant different ones;
	// the granted dimensions are what frames report.
	DesktopWidth  uint16
	DesktopHeight uint16

	ClientName     string
	KeyboardLayout uint32
}

func (c Config) withDefaults() Config {
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	if c.KeyboardLayout == 0 {
		c.KeyboardLayout = defaultKeyboardLayout
	}
	if c.DesktopWidth == 0 {
		c.DesktopWidth = defaultDesktopWidth
	}
	if c.DesktopHeight == 0 {
		c.DesktopHeight = defaultDesktopHeight
	}
	return c
}
