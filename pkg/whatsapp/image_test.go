package whatsapp

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareImageThumbnail(t *testing.T) {
	data := testPNG(t, 200, 100)
	prepared, err := prepareImage(data, "image/png", ImageOptions{})
	require.NoError(t, err)

	assert.Equal(t, data, prepared.Data, "image is untouched without options")
	assert.Equal(t, "image/png", prepared.MimeType)

	thumb, err := jpeg.Decode(bytes.NewReader(prepared.Thumbnail))
	require.NoError(t, err)
	assert.Equal(t, thumbnailWidth, thumb.Bounds().Dx())
}

func TestPrepareImageCompressesWideImages(t *testing.T) {
	data := testPNG(t, 1500, 20)
	prepared, err := prepareImage(data, "image/png", ImageOptions{Compress: true})
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(prepared.Data))
	require.NoError(t, err)
	assert.Equal(t, compressedWidth, decoded.Bounds().Dx())
	assert.Equal(t, "image/png", prepared.MimeType)
}

func TestPrepareImageRejectsGarbage(t *testing.T) {
	_, err := prepareImage([]byte("not an image"), "image/png", ImageOptions{})
	assert.Error(t, err)
}
