package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultInputSize — размер входа CLIP ViT-B/32.
const DefaultInputSize = 224

// Средние и отклонения каналов, на которых обучался CLIP.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Preprocess декодирует изображение, масштабирует короткую сторону до size бикубическим
// фильтром, вырезает центральный квадрат и возвращает нормализованный тензор CHW.
func Preprocess(data []byte, size int, maxPixels int) ([]float32, error) {
	const op = "embedding.Preprocess"

	if len(data) == 0 {
		return nil, e.Wrap(op, e.ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, e.Wrap(op, e.Mark(e.ErrInvalidImage, err))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidImage)
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, e.Wrap(op, fmt.Errorf("%w: %dx%d exceeds %d pixels", e.ErrInvalidImage, cfg.Width, cfg.Height, maxPixels))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, e.Wrap(op, e.Mark(e.ErrInvalidImage, err))
	}

	return toTensor(resizeCenterCrop(src, size)), nil
}

// resizeCenterCrop эквивалентен масштабированию короткой стороны до size с последующим
// центральным кадрированием, но выполняется одним проходом фильтра.
func resizeCenterCrop(src image.Image, size int) *image.RGBA {
	b := src.Bounds()
	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, image.Rect(x0, y0, x0+side, y0+side), draw.Src, nil)
	return dst
}

func toTensor(img *image.RGBA) []float32 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			i := y*w + x
			for c := 0; c < 3; c++ {
				out[c*plane+i] = (float32(px[c])/255 - clipMean[c]) / clipStd[c]
			}
		}
	}

	return out
}
