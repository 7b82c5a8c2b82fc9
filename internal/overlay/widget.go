// Package overlay draws status widgets onto mirror frames.
package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Widget draws itself onto a mirror frame.
type Widget interface {
	// ID is unique within a Manager.
	ID() string

	// Render draws the widget onto img at its position. Widgets clip to img.
	Render(img *image.RGBA)
}

// BaseWidget holds the placement shared by all widgets.
type BaseWidget struct {
	id      string
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// Position returns the top-left corner of the widget.
func (w *BaseWidget) Position() (int, int) {
	return w.x, w.y
}

// SetOpacity sets the widget's opacity, clamped to 0..1.
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.opacity = min(max(opacity, 0), 1)
}

// Opacity returns the widget's opacity.
func (w *BaseWidget) Opacity() float64 {
	return w.opacity
}

// BlendImage composites src onto dst with its top-left corner at (x, y), scaling the
// source alpha by opacity.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, sb.Min, mask, image.Point{}, draw.Over)
}

// DrawRectangle fills a rectangle with c blended at opacity.
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	if width <= 0 || height <= 0 || opacity <= 0 {
		return
	}
	r := image.Rect(x, y, x+width, y+height)
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}
