package overlay

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	lineHeight  = 13 // basicfont.Face7x13
	lineSpacing = 2
)

var (
	// White is the default text colour.
	White = color.RGBA{255, 255, 255, 255}
	// Red marks errors.
	Red = color.RGBA{255, 80, 80, 255}
	// Shade is the default panel background.
	Shade = color.RGBA{0, 0, 0, 160}
)

// Line is one row of text in a panel.
type Line struct {
	Text  string
	Color color.RGBA
}

// drawPanel draws lines onto img inside a padded background box.
func drawPanel(img *image.RGBA, x, y int, lines []Line, bg *color.RGBA, padding int, opacity float64) {
	if len(lines) == 0 {
		return
	}
	face := basicfont.Face7x13

	width := 0
	for _, l := range lines {
		width = max(width, font.MeasureString(face, l.Text).Ceil())
	}
	height := len(lines)*lineHeight + (len(lines)-1)*lineSpacing

	if bg != nil {
		DrawRectangle(img, x, y, width+padding*2, height+padding*2, *bg, opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, l := range lines {
		d := &font.Drawer{
			Dst:  textImg,
			Src:  image.NewUniform(l.Color),
			Face: face,
			Dot:  fixed.P(0, (i+1)*lineHeight+i*lineSpacing-face.Descent),
		}
		d.DrawString(l.Text)
	}
	BlendImage(img, textImg, x+padding, y+padding, opacity)
}

// TextWidget displays a fixed label.
type TextWidget struct {
	*BaseWidget
	mu        sync.RWMutex
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA // nil means transparent
	padding   int
}

// NewTextWidget creates a label at (x, y).
func NewTextWidget(id, text string, x, y int) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, x, y, 1.0),
		text:       text,
		textColor:  White,
		padding:    5,
	}
}

// Render draws the label
func (w *TextWidget) Render(img *image.RGBA) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.text == "" {
		return
	}
	drawPanel(img, w.x, w.y, []Line{{Text: w.text, Color: w.textColor}}, w.bgColor, w.padding, w.opacity)
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}

// Text returns the current text
func (w *TextWidget) Text() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.mu.Lock()
	w.textColor = c
	w.mu.Unlock()
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.mu.Lock()
	w.bgColor = c
	w.mu.Unlock()
}
