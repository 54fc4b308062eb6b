package domain

// ImageRef указывает на изображение товара: ключ объекта в MinIO или URL на CDN.
// Если заданы оба, используется ключ.
type ImageRef struct {
	Key string
	URL string
}

func (r ImageRef) IsEmpty() bool {
	return r.Key == "" && r.URL == ""
}

// String возвращает ссылку, по которой будет загружено изображение.
func (r ImageRef) String() string {
	if r.Key != "" {
		return r.Key
	}
	return r.URL
}
