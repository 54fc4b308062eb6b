package infrastructure

import (
	"mime"
	"net/http"
	"strings"

	"github.com/DRSN-tech/visual-search/pkg/e"
)

// NormalizeImageMIME приводит MIME-тип изображения к каноническому виду.
// Поддерживает jpeg, jpg, png, webp, gif. Пустой тип определяется по содержимому data.
// Возвращает ошибку e.ErrUnsupportedMediaType для неподдерживаемых типов.
func NormalizeImageMIME(contentType string, data []byte) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}

	switch mediaType {
	case "", "application/octet-stream", "binary/octet-stream":
		if len(data) == 0 {
			return "", e.ErrUnsupportedMediaType
		}
		sniffed := http.DetectContentType(data)
		if sniffed == "application/octet-stream" {
			return "", e.ErrUnsupportedMediaType
		}
		return NormalizeImageMIME(sniffed, nil)
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	case "image/gif":
		return "image/gif", nil
	default:
		return mediaType, e.ErrUnsupportedMediaType
	}
}
