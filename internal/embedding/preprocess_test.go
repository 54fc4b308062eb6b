package embedding

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocess_ShapeAndNormalization(t *testing.T) {
	data := solidPNG(t, 300, 200, color.RGBA{255, 0, 0, 255})

	tensor, err := Preprocess(data, DefaultInputSize, 0)
	require.NoError(t, err)

	plane := DefaultInputSize * DefaultInputSize
	require.Len(t, tensor, 3*plane)

	center := (DefaultInputSize/2)*DefaultInputSize + DefaultInputSize/2
	assert.InDelta(t, (1-clipMean[0])/clipStd[0], tensor[center], 1e-4)
	assert.InDelta(t, (0-clipMean[1])/clipStd[1], tensor[plane+center], 1e-4)
	assert.InDelta(t, (0-clipMean[2])/clipStd[2], tensor[2*plane+center], 1e-4)
}

func TestPreprocess_CenterCrop(t *testing.T) {
	// левая и правая четверти красные, центр зелёный: после кадрирования
	// квадрата 200x200 по центру остаётся только зелёный
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			c := color.RGBA{0, 255, 0, 255}
			if x < 100 || x >= 300 {
				c = color.RGBA{255, 0, 0, 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	const size = 16
	tensor, err := Preprocess(buf.Bytes(), size, 0)
	require.NoError(t, err)

	plane := size * size
	for _, i := range []int{size/2*size + size/2, size/2*size + 3, size/2*size + size - 4} {
		assert.Greater(t, tensor[plane+i], tensor[i], "pixel %d should be green", i)
	}
}

func TestPreprocess_GIF(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 10, 10), []color.Color{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))

	tensor, err := Preprocess(buf.Bytes(), 8, 0)
	require.NoError(t, err)
	assert.Len(t, tensor, 3*8*8)
}

func TestPreprocess_Invalid(t *testing.T) {
	valid := solidPNG(t, 100, 100, color.White)

	tests := []struct {
		name      string
		data      []byte
		maxPixels int
	}{
		{name: "empty", data: nil},
		{name: "garbage", data: []byte("GIF89a-but-not-really")},
		{name: "truncated png", data: valid[:len(valid)/2]},
		{name: "too many pixels", data: valid, maxPixels: 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(tt.data, DefaultInputSize, tt.maxPixels)
			assert.ErrorIs(t, err, e.ErrInvalidImage)
		})
	}
}
