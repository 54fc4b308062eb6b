package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType — тип изменения товара в каталоге
type EventType string

const (
	EventCreated      EventType = "created"
	EventUpdated      EventType = "updated"
	EventDeleted      EventType = "deleted"
	EventImageUpdated EventType = "image_updated"
)

var eventTypeAliases = map[string]EventType{
	"product.created":       EventCreated,
	"product.updated":       EventUpdated,
	"product.deleted":       EventDeleted,
	"product.image.updated": EventImageUpdated,
	"product.image_updated": EventImageUpdated,
	"created":               EventCreated,
	"updated":               EventUpdated,
	"deleted":               EventDeleted,
	"image_updated":         EventImageUpdated,
}

// ParseEventType принимает имя события из уведомления (product.created) или короткое имя (created).
func ParseEventType(s string) (EventType, bool) {
	t, ok := eventTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// WireName возвращает имя события в формате каталога.
func (t EventType) WireName() string {
	switch t {
	case "":
		return ""
	case EventImageUpdated:
		return "product.image.updated"
	}
	return "product." + string(t)
}

// ProductData описывает товар в уведомлении каталога
type ProductData struct {
	ExternalID  string
	Title       string
	Description string
	Category    string
	Price       decimal.NullDecimal
	Currency    string
	Image       ImageRef
	Metadata    map[string]any
}

// ChangeEvent — проверенное уведомление об изменении товара
type ChangeEvent struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Product   ProductData
}
