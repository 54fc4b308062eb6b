package clients

import (
	"context"

	config "github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

type QdrantClient struct {
	Client *qdrant.Client
	cfg    *config.QdrantCfg
}

func NewQdrantClient(cfg *config.QdrantCfg) (*QdrantClient, error) {
	qc := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.ApiKey,
		UseTLS: cfg.UseTLS,
	}
	// ответы поиска с payload и векторами превышают лимит gRPC по умолчанию
	if cfg.MaxRecvMsgSize > 0 {
		qc.GrpcOptions = []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSize)),
		}
	}

	qdrantClient, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &QdrantClient{
		Client: qdrantClient,
		cfg:    cfg,
	}, nil
}

func (q *QdrantClient) Close() error {
	return q.Client.Close()
}

// Points возвращает gRPC-клиент сервиса точек поверх пула соединений.
func (q *QdrantClient) Points() qdrant.PointsClient {
	return q.Client.GetPointsClient()
}

// Collections возвращает gRPC-клиент сервиса коллекций поверх пула соединений.
func (q *QdrantClient) Collections() qdrant.CollectionsClient {
	return q.Client.GetCollectionsClient()
}

func (q *QdrantClient) HealthCheck(ctx context.Context) error {
	if _, err := q.Client.HealthCheck(ctx); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	return nil
}
