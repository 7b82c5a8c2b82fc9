package overlay

import (
	"fmt"
	"image"

	"github.com/bryanchriswhite/MixedView/internal/flags"
)

// DefaultFlagKeys are the flags shown by the status panel.
var DefaultFlagKeys = []string{flags.CameraSource, flags.CameraFPS, flags.RenderFPS, flags.CameraError}

// FlagsWidget shows live values from a flag store, one line per key that is set.
// CAMERA_ERROR is drawn in red.
type FlagsWidget struct {
	*BaseWidget
	store   *flags.Store
	keys    []string
	padding int
}

// NewFlagsWidget shows keys from store at (x, y). No keys means DefaultFlagKeys.
func NewFlagsWidget(id string, store *flags.Store, x, y int, keys ...string) *FlagsWidget {
	if len(keys) == 0 {
		keys = DefaultFlagKeys
	}
	return &FlagsWidget{
		BaseWidget: NewBaseWidget(id, x, y, 0.85),
		store:      store,
		keys:       keys,
		padding:    4,
	}
}

// Lines formats the current flag values.
func (w *FlagsWidget) Lines() []Line {
	lines := make([]Line, 0, len(w.keys))
	for _, key := range w.keys {
		v, ok := w.store.Load(key)
		if !ok {
			continue
		}
		c := White
		if key == flags.CameraError {
			c = Red
		}
		lines = append(lines, Line{Text: key + " " + formatValue(v), Color: c})
	}
	return lines
}

// Render draws the panel
func (w *FlagsWidget) Render(img *image.RGBA) {
	bg := Shade
	drawPanel(img, w.x, w.y, w.Lines(), &bg, w.padding, w.opacity)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case float64:
		return fmt.Sprintf("%.1f", v)
	case float32:
		return fmt.Sprintf("%.1f", v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
