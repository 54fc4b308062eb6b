package domain

import "time"

// Payload описывает дополнительную информацию вектора
type Payload map[string]any

const (
	PayloadExternalID = "external_id"
	PayloadTitle      = "title"
	PayloadCategory   = "category"
	PayloadPrice      = "price"
	PayloadCurrency   = "currency"
	PayloadImageURL   = "image_url"
	PayloadImageKey   = "image_key"
	PayloadEventID    = "event_id"
	PayloadModelID    = "model_id"
	PayloadIndexedAt  = "indexed_at"
)

// EmbedResult — эмбеддинг одного элемента батча. Задано ровно одно из полей.
type EmbedResult struct {
	Vector []float32
	Err    error
}

// NewPayload денормализует данные товара в payload записи индекса.
func NewPayload(product *ProductData, eventID string, modelID string, indexedAt time.Time) Payload {
	p := Payload{
		PayloadExternalID: product.ExternalID,
		PayloadEventID:    eventID,
		PayloadModelID:    modelID,
		PayloadIndexedAt:  indexedAt.UTC().Unix(),
	}

	setIfNotEmpty(p, PayloadTitle, product.Title)
	setIfNotEmpty(p, PayloadCategory, product.Category)
	setIfNotEmpty(p, PayloadCurrency, product.Currency)
	setIfNotEmpty(p, PayloadImageURL, product.Image.URL)
	setIfNotEmpty(p, PayloadImageKey, product.Image.Key)
	if product.Price.Valid {
		p[PayloadPrice] = product.Price.Decimal.InexactFloat64()
	}

	return p
}

func setIfNotEmpty(p Payload, key, value string) {
	if value != "" {
		p[key] = value
	}
}
