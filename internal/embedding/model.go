// Package embedding переводит изображения и тексты в общее векторное пространство.
package embedding

import "context"

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
)

// ModelInfo описывает загруженную модель.
type ModelInfo struct {
	ModelID   string
	Device    string // устройство, на котором фактически загружена модель
	Dimension int
	InputSize int // сторона квадратного входа изображения
}

// Model — предобученный совместный энкодер изображений и текста (CLIP-подобный).
// Возвращаемые векторы не обязаны быть нормализованы.
type Model interface {
	// Load загружает модель на устройство. "auto" пробует ускоритель, затем CPU.
	Load(ctx context.Context, modelID string, device string) (*ModelInfo, error)
	// EncodeImages принимает тензоры CHW, подготовленные Preprocess.
	EncodeImages(ctx context.Context, pixels [][]float32) ([][]float32, error)
	EncodeTexts(ctx context.Context, texts []string) ([][]float32, error)
	Unload(ctx context.Context) error
}
