package usecase

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

type EmbeddingEngine interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	// EmbedImagesBatch возвращает результаты в порядке входа; batchSize <= 0 — размер из конфигурации.
	EmbedImagesBatch(ctx context.Context, images [][]byte, batchSize int) []domain.EmbedResult
	EmbedText(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	Dimension() int
}

// ImageFetcher загружает изображение товара по ключу MinIO или URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref domain.ImageRef) ([]byte, error)
}

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}

// Transactor выполняет fn в одной транзакции PostgreSQL.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
