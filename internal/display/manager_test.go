package display

import (
	"image"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitRectLetterboxes(t *testing.T) {
	// 2:1 stereo frame into a 4:3 window
	r := fitRect(1920, 960, 800, 600)
	assert.Equal(t, image.Rect(0, 100, 800, 500), r)

	// exact fit
	assert.Equal(t, image.Rect(0, 0, 960, 480), fitRect(1920, 960, 960, 480))
}

func TestFindFormat(t *testing.T) {
	formats := []xproto.Format{
		{Depth: 1, BitsPerPixel: 1, ScanlinePad: 32},
		{Depth: 24, BitsPerPixel: 32, ScanlinePad: 32},
	}
	f, err := findFormat(formats, 24)
	require.NoError(t, err)
	assert.Equal(t, pixmapFormat{depth: 24, bytesPerPixel: 4, scanlinePad: 4}, f)

	_, err = findFormat(formats, 30)
	assert.Error(t, err)
}

func TestToZPixmapBGRX(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	copy(img.Pix, []byte{10, 20, 30, 255, 40, 50, 60, 128})

	buf, stride, err := toZPixmap(nil, img, pixmapFormat{depth: 24, bytesPerPixel: 4, scanlinePad: 4})
	require.NoError(t, err)
	assert.Equal(t, 8, stride)
	assert.Equal(t, []byte{30, 20, 10, 0, 60, 50, 40, 0}, buf)
}

func TestToZPixmapPadsPackedRows(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 2))
	copy(img.Pix, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	buf, stride, err := toZPixmap(nil, img, pixmapFormat{depth: 24, bytesPerPixel: 3, scanlinePad: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, stride)
	assert.Equal(t, []byte{3, 2, 1, 0, 7, 6, 5, 0}, buf)
}

func TestToZPixmapReusesBuffer(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	f := pixmapFormat{depth: 32, bytesPerPixel: 4, scanlinePad: 4}
	first, _, err := toZPixmap(nil, img, f)
	require.NoError(t, err)
	second, _, err := toZPixmap(first, img, f)
	require.NoError(t, err)
	assert.Same(t, &first[0], &second[0])
}

func TestToZPixmapRejectsOddDepth(t *testing.T) {
	_, _, err := toZPixmap(nil, image.NewRGBA(image.Rect(0, 0, 1, 1)), pixmapFormat{bytesPerPixel: 2})
	assert.Error(t, err)
}
