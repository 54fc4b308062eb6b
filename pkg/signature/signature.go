// Package signature проверяет HMAC-SHA256 подписи входящих уведомлений.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix — схема подписи в заголовке: "sha256=<hex>".
const Prefix = "sha256="

// Sign возвращает значение заголовка подписи для body.
func Sign(body []byte, secret []byte) string {
	return Prefix + hex.EncodeToString(compute(body, secret))
}

// Verify проверяет подпись над исходными байтами тела запроса.
// Принимается как "sha256=<hex>", так и голый hex. Пустой секрет никогда не проходит проверку.
func Verify(body []byte, header string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}

	header = strings.TrimSpace(header)
	if len(header) >= len(Prefix) && strings.EqualFold(header[:len(Prefix)], Prefix) {
		header = header[len(Prefix):]
	}
	if header == "" {
		return false
	}

	provided, err := hex.DecodeString(header)
	if err != nil || len(provided) != sha256.Size {
		return false
	}

	return hmac.Equal(provided, compute(body, secret))
}

func compute(body []byte, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
