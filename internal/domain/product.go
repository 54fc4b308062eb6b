package domain

import "time"

// Product описывает товар каталога, сохранённый в PostgreSQL
type Product struct {
	ID               int64
	ExternalID       string
	Title            string
	Description      string
	Category         string
	Price            *int64 // Цена хранится в копейках
	Currency         string
	ImageURL         string
	ImageKey         string
	Metadata         map[string]any
	EmbeddingID      string
	EmbeddingVersion int // растёт при каждой успешной индексации товара
	LastEventID      string
	CreatedAt        time.Time
	UpdatedAt        *time.Time
	DeletedAt        *time.Time // tombstone после product.deleted
}

func (p *Product) IsDeleted() bool {
	return p.DeletedAt != nil
}

// ImageRef возвращает последнюю известную ссылку на изображение товара.
func (p *Product) ImageRef() ImageRef {
	return ImageRef{Key: p.ImageKey, URL: p.ImageURL}
}
