// Package display mirrors the camera frame into a desktop X11 window.
package display

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/output"
	"golang.org/x/image/draw"
)

// putImageHeader is the fixed size of a PutImage request in bytes.
const putImageHeader = 24

// Manager owns the mirror window. It implements output.Output.
type Manager struct {
	conn          *xgb.Conn
	screen        *xproto.ScreenInfo
	displayWindow xproto.Window
	gc            xproto.Gcontext
	width         int
	height        int
	interval      time.Duration
	running       bool
	mu            sync.RWMutex

	// only touched by WriteFrame
	canvas    *image.RGBA
	pixmap    []byte
	lastWrite time.Time
	format    pixmapFormat
}

var _ output.Output = (*Manager)(nil)

type pixmapFormat struct {
	depth         uint8
	bytesPerPixel int
	scanlinePad   int
}

// NewManager connects to the X server named by $DISPLAY.
func NewManager(cfg output.Config) (*Manager, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}

	m := &Manager{
		conn:     conn,
		screen:   screen,
		width:    cfg.Width,
		height:   cfg.Height,
		interval: time.Second / time.Duration(fps),
		canvas:   image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
	}

	m.format, err = findFormat(setup.PixmapFormats, screen.RootDepth)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func findFormat(formats []xproto.Format, depth uint8) (pixmapFormat, error) {
	for _, f := range formats {
		if f.Depth == depth {
			return pixmapFormat{
				depth:         depth,
				bytesPerPixel: int(f.BitsPerPixel) / 8,
				scanlinePad:   int(f.ScanlinePad) / 8,
			}, nil
		}
	}
	return pixmapFormat{}, fmt.Errorf("no pixmap format for depth %d", depth)
}

// Start creates and shows the mirror window
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("display already running")
	}

	log := logger.WithComponent("display")

	windowID, err := xproto.NewWindowId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	m.displayWindow = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		m.conn,
		m.screen.RootDepth,
		m.displayWindow,
		m.screen.Root,
		0, 0,
		uint16(m.width), uint16(m.height),
		0,
		xproto.WindowClassInputOutput,
		m.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := m.setWindowTitle("MixedView - Camera Mirror"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := m.setWindowClass("mixedview", "MixedView"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(m.conn, m.displayWindow).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	m.gc = gc
	err = xproto.CreateGCChecked(
		m.conn,
		m.gc,
		xproto.Drawable(m.displayWindow),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	m.conn.Sync()

	m.running = true
	log.Info().
		Int("width", m.width).
		Int("height", m.height).
		Uint32("window_id", uint32(m.displayWindow)).
		Msg("Mirror window created")
	return nil
}

// Stop closes the mirror window and the X connection
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.gc != 0 {
		xproto.FreeGC(m.conn, m.gc)
	}
	if m.displayWindow != 0 {
		xproto.DestroyWindow(m.conn, m.displayWindow)
		m.conn.Sync()
	}
	m.conn.Close()

	m.running = false
	logger.WithComponent("display").Info().Msg("Mirror window closed")
	return nil
}

// Name returns the output type name
func (m *Manager) Name() string { return "X11 Mirror Window" }

// IsRunning returns whether the window is open
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetWindowID returns the mirror window ID
func (m *Manager) GetWindowID() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(m.displayWindow)
}

// WriteFrame letterboxes frame into the window, at most once per frame interval.
func (m *Manager) WriteFrame(frame *image.RGBA) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return fmt.Errorf("display not running")
	}
	now := time.Now()
	if now.Sub(m.lastWrite) < m.interval {
		return nil
	}
	m.lastWrite = now

	draw.Draw(m.canvas, m.canvas.Bounds(), image.Black, image.Point{}, draw.Src)
	dst := fitRect(frame.Bounds().Dx(), frame.Bounds().Dy(), m.width, m.height)
	draw.ApproxBiLinear.Scale(m.canvas, dst, frame, frame.Bounds(), draw.Src, nil)

	var stride int
	var err error
	m.pixmap, stride, err = toZPixmap(m.pixmap, m.canvas, m.format)
	if err != nil {
		return err
	}
	return m.putImage(stride)
}

// putImage sends the pixmap in bands that fit the server's maximum request length.
func (m *Manager) putImage(stride int) error {
	maxBytes := int(xproto.Setup(m.conn).MaximumRequestLength)*4 - putImageHeader
	rows := maxBytes / stride
	if rows < 1 {
		return fmt.Errorf("scanline of %d bytes exceeds the X request limit", stride)
	}

	for y := 0; y < m.height; y += rows {
		n := rows
		if y+n > m.height {
			n = m.height - y
		}
		err := xproto.PutImageChecked(
			m.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(m.displayWindow),
			m.gc,
			uint16(m.width), uint16(n),
			0, int16(y),
			0,
			m.format.depth,
			m.pixmap[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// fitRect returns the largest rectangle with the source aspect ratio centered in the
// destination.
func fitRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	scaleX := float64(dstW) / float64(srcW)
	scaleY := float64(dstH) / float64(srcH)
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}
	w := int(float64(srcW) * scale)
	h := int(float64(srcH) * scale)
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// toZPixmap converts img into the server's ZPixmap layout, reusing buf when it is large
// enough. 32 bpp is BGRX, matching the usual 0xff0000/0xff00/0xff visual masks.
func toZPixmap(buf []byte, img *image.RGBA, f pixmapFormat) ([]byte, int, error) {
	if f.bytesPerPixel != 3 && f.bytesPerPixel != 4 {
		return buf, 0, fmt.Errorf("unsupported bytes per pixel: %d", f.bytesPerPixel)
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	unpadded := w * f.bytesPerPixel
	pad := f.scanlinePad
	if pad <= 0 {
		pad = 1
	}
	stride := (unpadded + pad - 1) / pad * pad

	size := stride * h
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]

	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := buf[y*stride : y*stride+unpadded]
		for x, d := 0, 0; x < len(src); x, d = x+4, d+f.bytesPerPixel {
			dst[d] = src[x+2]
			dst[d+1] = src[x+1]
			dst[d+2] = src[x]
			if f.bytesPerPixel == 4 {
				if f.depth == 32 {
					dst[d+3] = src[x+3]
				} else {
					dst[d+3] = 0
				}
			}
		}
	}
	return buf, stride, nil
}

// setWindowTitle sets the window title
func (m *Manager) setWindowTitle(title string) error {
	titleAtom, err := m.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := m.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// setWindowClass sets the window class
func (m *Manager) setWindowClass(instance, class string) error {
	classAtom, err := m.getAtom("WM_CLASS")
	if err != nil {
		return err
	}
	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (m *Manager) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
