package inference

import (
	"encoding/json"
	"fmt"

	"github.com/DRSN-tech/visual-search/pkg/e"
)

type inferTensor struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	Datatype string `json:"datatype"`
	Data     any    `json:"data"`
}

type inferOutputSpec struct {
	Name string `json:"name"`
}

type inferRequest struct {
	Inputs  []inferTensor     `json:"inputs"`
	Outputs []inferOutputSpec `json:"outputs,omitempty"`
}

type outputTensor struct {
	Name     string          `json:"name"`
	Shape    []int           `json:"shape"`
	Datatype string          `json:"datatype"`
	Data     json.RawMessage `json:"data"`
}

type inferResponse struct {
	ModelName string         `json:"model_name"`
	Outputs   []outputTensor `json:"outputs"`
}

type tensorMetadata struct {
	Name     string `json:"name"`
	Datatype string `json:"datatype"`
	Shape    []int  `json:"shape"`
}

type modelMetadata struct {
	Name     string           `json:"name"`
	Versions []string         `json:"versions"`
	Platform string           `json:"platform"`
	Inputs   []tensorMetadata `json:"inputs"`
	Outputs  []tensorMetadata `json:"outputs"`
}

// dimensions возвращает размерность эмбеддинга и сторону входного изображения.
// Размерность берётся из последней оси выхода image_embeds (или text_embeds).
func (m *modelMetadata) dimensions() (int, int, error) {
	dim := 0
	for _, name := range []string{imageOutput, textOutput} {
		for _, out := range m.Outputs {
			if out.Name == name && len(out.Shape) > 0 {
				dim = out.Shape[len(out.Shape)-1]
				break
			}
		}
		if dim > 0 {
			break
		}
	}
	if dim <= 0 {
		return 0, 0, fmt.Errorf("model %s exposes no embedding output with a static dimension", m.Name)
	}

	inputSize := 0
	for _, in := range m.Inputs {
		if in.Name == imageInput && len(in.Shape) >= 2 {
			inputSize = in.Shape[len(in.Shape)-1]
		}
	}

	return dim, max(inputSize, 0), nil
}

// vectors разворачивает плоский выход [n, dim] в срезы по элементам.
func (r *inferResponse) vectors(name string, n int) ([][]float32, error) {
	for _, out := range r.Outputs {
		if out.Name != name {
			continue
		}

		var flat []float32
		if err := json.Unmarshal(out.Data, &flat); err != nil {
			return nil, fmt.Errorf("%w: output %s: %v", e.ErrInvalidEmbedding, name, err)
		}
		if n == 0 || len(flat)%n != 0 {
			return nil, fmt.Errorf("%w: output %s has %d values for %d inputs", e.ErrInvalidEmbedding, name, len(flat), n)
		}

		dim := len(flat) / n
		res := make([][]float32, n)
		for i := range res {
			res[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
		}
		return res, nil
	}

	return nil, fmt.Errorf("%w: response has no output %s", e.ErrInvalidEmbedding, name)
}
