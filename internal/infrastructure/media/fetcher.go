// Package media загружает изображения товаров из MinIO или по URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/infrastructure"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
)

const defaultFetchTimeout = 10 * time.Second

// Fetcher загружает изображение по ImageRef. Ключ читается из хранилища объектов,
// URL загружается по HTTP. Ошибки размечены как временные или постоянные.
type Fetcher struct {
	images usecase.ImageRepository
	http   *http.Client
	cfg    *cfg.MediaCfg
	logger logger.Logger
}

func NewFetcher(images usecase.ImageRepository, httpClient *http.Client, cfg *cfg.MediaCfg, logger logger.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Fetcher{
		images: images,
		http:   httpClient,
		cfg:    cfg,
		logger: logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, ref domain.ImageRef) ([]byte, error) {
	const op = "Fetcher.Fetch"

	switch {
	case ref.IsEmpty():
		return nil, e.Wrap(op, e.Mark(e.ErrPermanentJob, e.ErrNoImageReference))
	case ref.Key != "":
		data, err := f.images.Get(ctx, ref.Key, f.cfg.MaxImageBytes)
		if err != nil {
			return nil, e.Wrap(op, err)
		}
		return data, nil
	default:
		data, err := f.fetchURL(ctx, ref.URL)
		if err != nil {
			return nil, e.Wrap(op, err)
		}
		return data, nil
	}
}

func (f *Fetcher) fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, e.Mark(e.ErrPermanentJob, fmt.Errorf("invalid image url %q", rawURL))
	}

	timeout := f.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, e.Mark(e.ErrPermanentJob, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, e.Mark(e.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("GET %s: %w", u.Redacted(), err)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if _, err := infrastructure.NormalizeImageMIME(ct, nil); err != nil && !isOctetStream(ct) {
			return nil, e.Mark(e.ErrInvalidImage, fmt.Errorf("content type %q: %w", ct, err))
		}
	}

	maxBytes := f.cfg.MaxImageBytes
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, e.Mark(e.ErrInvalidImage, fmt.Errorf("image is %d bytes, limit %d", resp.ContentLength, maxBytes))
	}

	data, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}

	f.logger.Debugf("fetched image %s (%d bytes)", u.Redacted(), len(data))
	return data, nil
}

// classifyStatus: 404/410 означают, что изображение удалено, прочие 4xx не исправятся повтором.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return e.Mark(e.ErrStaleReference, fmt.Errorf("status %d", code))
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return e.Mark(e.ErrTransient, fmt.Errorf("status %d", code))
	default:
		return e.Mark(e.ErrPermanentJob, fmt.Errorf("status %d", code))
	}
}

func isOctetStream(ct string) bool {
	return ct == "application/octet-stream" || ct == "binary/octet-stream"
}

// readLimited читает не больше maxBytes байт. При maxBytes <= 0 размер не ограничен.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, e.Mark(e.ErrTransient, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, e.Mark(e.ErrInvalidImage, fmt.Errorf("image exceeds %d bytes", maxBytes))
	}
	if len(data) == 0 {
		return nil, e.Mark(e.ErrInvalidImage, errors.New("empty image"))
	}
	return data, nil
}
