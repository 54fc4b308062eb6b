package embedding

import (
	"math"

	"github.com/DRSN-tech/visual-search/pkg/e"
)

// normalize возвращает копию v с единичной L2-нормой.
func normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, e.ErrEmptyVectors
	}

	var sum float64
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, e.ErrInvalidEmbedding
		}
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, e.ErrInvalidEmbedding
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Similarity — косинусная близость векторов в диапазоне [-1, 1].
// Для векторов разной длины возвращает 0.
func Similarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}

	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(math.Max(-1, math.Min(1, s)))
}
