package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/repository/redis/converter"
	"github.com/DRSN-tech/visual-search/pkg/clients"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/redis/go-redis/v9"
)

const embedKeyPrefix = "embed:text:"

// EmbedCacheRepo кэширует эмбеддинги текстовых запросов.
type EmbedCacheRepo struct {
	client *clients.RedisClient
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewEmbedCacheRepo(client *clients.RedisClient, cfg *cfg.RedisCfg, logger logger.Logger) *EmbedCacheRepo {
	return &EmbedCacheRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Get возвращает вектор запроса. Повреждённые записи считаются промахом.
func (c *EmbedCacheRepo) Get(ctx context.Context, modelID, text string) ([]float32, bool, error) {
	key := embedKey(modelID, text)

	data, err := c.client.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}

	model, err := unmarshalEmbedding(data)
	if err != nil {
		c.logger.Warnf("%v", e.Wrap(whereami.WhereAmI(), fmt.Errorf("corrupted cache entry %s: %w", key, err)))
		return nil, false, nil
	}

	if model.ModelID != modelID {
		c.logger.Warnf("cache entry %s belongs to model %s, expected %s", key, model.ModelID, modelID)
		return nil, false, nil
	}

	return model.Vector, true, nil
}

// Set сохраняет вектор запроса с TTL из конфигурации.
func (c *EmbedCacheRepo) Set(ctx context.Context, modelID, text string, vector []float32) error {
	data, err := marshalEmbedding(&converter.EmbeddingRedisModel{ModelID: modelID, Vector: vector})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := c.client.Client.Set(ctx, embedKey(modelID, text), data, c.cfg.EmbedCacheTTL).Err(); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// embedKey хэширует текст, длина ключа не зависит от длины запроса.
func embedKey(modelID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return embedKeyPrefix + modelID + ":" + hex.EncodeToString(sum[:])
}

func marshalEmbedding(model *converter.EmbeddingRedisModel) ([]byte, error) {
	data, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return data, nil
}

func unmarshalEmbedding(data []byte) (*converter.EmbeddingRedisModel, error) {
	var model converter.EmbeddingRedisModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return &model, nil
}
