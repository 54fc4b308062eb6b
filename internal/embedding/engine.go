package embedding

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Config задаёт параметры движка эмбеддингов.
type Config struct {
	ModelID   string
	Device    string
	BatchSize int
	// Dimension — ожидаемая размерность; 0 принимает размерность модели.
	Dimension      int
	MaxImagePixels int
}

// Result — результат обработки одного элемента батча.
type Result = domain.EmbedResult

// Engine — владелец загруженной модели. Безопасен для конкурентного использования,
// передаётся зависимым компонентам по ссылке.
type Engine struct {
	model Model
	info  ModelInfo
	cfg   Config
	log   logger.Logger

	mu     sync.RWMutex
	closed bool
}

// New загружает модель и возвращает готовый движок. Несовпадение размерности модели
// с ожидаемой — ошибка конфигурации.
func New(ctx context.Context, model Model, cfg Config, log logger.Logger) (*Engine, error) {
	const op = "embedding.New"

	if cfg.Device == "" {
		cfg.Device = DeviceAuto
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	info, err := model.Load(ctx, cfg.ModelID, cfg.Device)
	if err != nil {
		if !errors.Is(err, e.ErrModelLoad) {
			err = e.Mark(e.ErrModelLoad, err)
		}
		return nil, e.Wrap(op, err)
	}
	if info.Dimension <= 0 {
		return nil, e.Wrap(op, fmt.Errorf("%w: model reported dimension %d", e.ErrModelLoad, info.Dimension))
	}
	if cfg.Dimension > 0 && info.Dimension != cfg.Dimension {
		_ = model.Unload(ctx)
		return nil, e.Wrap(op, fmt.Errorf("%w: model %s produces %d-d vectors, index expects %d",
			e.ErrConfiguration, cfg.ModelID, info.Dimension, cfg.Dimension))
	}
	if info.InputSize <= 0 {
		info.InputSize = DefaultInputSize
	}

	log.Infof("embedding model %s loaded on %s, dimension %d", info.ModelID, info.Device, info.Dimension)

	return &Engine{
		model: model,
		info:  *info,
		cfg:   cfg,
		log:   log,
	}, nil
}

// Close выгружает модель. Повторный вызов ничего не делает.
func (eng *Engine) Close(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.closed {
		return nil
	}
	eng.closed = true

	if err := eng.model.Unload(ctx); err != nil {
		return e.Wrap("Engine.Close", err)
	}
	return nil
}

func (eng *Engine) Dimension() int  { return eng.info.Dimension }
func (eng *Engine) ModelID() string { return eng.info.ModelID }
func (eng *Engine) Device() string  { return eng.info.Device }

// EmbedImage возвращает L2-нормализованный эмбеддинг изображения.
// Нечитаемое изображение — e.ErrInvalidImage.
func (eng *Engine) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	const op = "Engine.EmbedImage"

	pixels, err := Preprocess(data, eng.info.InputSize, eng.cfg.MaxImagePixels)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	vectors, err := eng.encodeImages(ctx, [][]float32{pixels})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return vectors[0], nil
}

// EmbedImagesBatch обрабатывает изображения батчами по batchSize (при batchSize <= 0 берётся значение из конфигурации).
// Результаты возвращаются в порядке входа; ошибка одного элемента не затрагивает остальные.
func (eng *Engine) EmbedImagesBatch(ctx context.Context, images [][]byte, batchSize int) []Result {
	if batchSize <= 0 {
		batchSize = eng.cfg.BatchSize
	}

	results := make([]Result, len(images))
	tensors := make([][]float32, len(images))

	g := errgroup.Group{}
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, data := range images {
		g.Go(func() error {
			pixels, err := Preprocess(data, eng.info.InputSize, eng.cfg.MaxImagePixels)
			if err != nil {
				results[i].Err = err
				return nil
			}
			tensors[i] = pixels
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]int, 0, len(images))
	for i := range images {
		if results[i].Err == nil {
			valid = append(valid, i)
		}
	}

	for start := 0; start < len(valid); start += batchSize {
		idx := valid[start:min(start+batchSize, len(valid))]
		eng.embedChunk(ctx, idx, tensors, results)
	}

	return results
}

// embedChunk кодирует один батч. При ошибке батча элементы обрабатываются по одному,
// чтобы сбой затронул только проблемные изображения.
func (eng *Engine) embedChunk(ctx context.Context, idx []int, tensors [][]float32, results []Result) {
	batch := make([][]float32, len(idx))
	for j, i := range idx {
		batch[j] = tensors[i]
	}

	vectors, err := eng.encodeImages(ctx, batch)
	if err == nil {
		for j, i := range idx {
			results[i].Vector = vectors[j]
		}
		return
	}

	if len(idx) == 1 || ctx.Err() != nil {
		for _, i := range idx {
			results[i].Err = err
		}
		return
	}

	eng.log.Warnf("batch of %d images failed, falling back to single items: %v", len(idx), err)
	for _, i := range idx {
		v, err := eng.encodeImages(ctx, [][]float32{tensors[i]})
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Vector = v[0]
	}
}

// EmbedText возвращает эмбеддинг текста в том же пространстве, что и изображения.
func (eng *Engine) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := eng.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts кодирует тексты одним запросом к модели. Пустой текст — e.ErrEmptyInput.
func (eng *Engine) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "Engine.EmbedTexts"

	if len(texts) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyInput)
	}
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = strings.TrimSpace(t)
		if cleaned[i] == "" {
			return nil, e.Wrap(op, e.ErrEmptyInput)
		}
	}

	vectors, err := eng.run(ctx, len(cleaned), func(ctx context.Context) ([][]float32, error) {
		return eng.model.EncodeTexts(ctx, cleaned)
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return vectors, nil
}

func (eng *Engine) encodeImages(ctx context.Context, batch [][]float32) ([][]float32, error) {
	return eng.run(ctx, len(batch), func(ctx context.Context) ([][]float32, error) {
		return eng.model.EncodeImages(ctx, batch)
	})
}

// run выполняет прямой проход модели, проверяет ответ и нормализует векторы.
// Паника внутри модели превращается в e.ErrResourceExhausted и не роняет воркер.
func (eng *Engine) run(ctx context.Context, n int, forward func(ctx context.Context) ([][]float32, error)) (out [][]float32, err error) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()

	if eng.closed {
		return nil, e.ErrEngineClosed
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: model panicked: %v", e.ErrResourceExhausted, r)
		}
	}()

	raw, err := forward(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) != n {
		return nil, fmt.Errorf("%w: model returned %d vectors for %d inputs", e.ErrInvalidEmbedding, len(raw), n)
	}

	out = make([][]float32, n)
	for i, v := range raw {
		if len(v) != eng.info.Dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", e.ErrDimensionMismatch, len(v), eng.info.Dimension)
		}
		if out[i], err = normalize(v); err != nil {
			return nil, err
		}
	}

	return out, nil
}
