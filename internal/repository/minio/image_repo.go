package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

// ImageRepo читает изображения товаров из MinIO.
type ImageRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewImageRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *ImageRepo {
	return &ImageRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// Get возвращает содержимое объекта. Отсутствующий объект — e.ErrStaleReference,
// объект больше maxBytes — e.ErrInvalidImage.
func (i *ImageRepo) Get(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	obj, err := i.mc.GetObject(ctx, i.cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), classifyErr(err))
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), classifyErr(err))
	}
	if maxBytes > 0 && info.Size > maxBytes {
		return nil, e.Mark(e.ErrInvalidImage, fmt.Errorf("object %s is %d bytes, limit %d", key, info.Size, maxBytes))
	}

	var r io.Reader = obj
	if maxBytes > 0 {
		r = io.LimitReader(obj, maxBytes+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), classifyErr(err))
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, e.Mark(e.ErrInvalidImage, fmt.Errorf("object %s exceeds %d bytes", key, maxBytes))
	}

	return data, nil
}

func classifyErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return e.Mark(e.ErrStaleReference, err)
	case "InvalidObjectName", "AccessDenied", "NoSuchBucket":
		return e.Mark(e.ErrPermanentJob, err)
	default:
		return e.Mark(e.ErrTransient, err)
	}
}
