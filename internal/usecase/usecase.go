package usecase

import (
	"context"

	"github.com/DRSN-tech/visual-search/internal/domain"
)

type WebhookUC interface {
	Receive(ctx context.Context, req *ReceiveReq) (*ReceiveRes, error)
}

type IndexingUC interface {
	Process(ctx context.Context, job *domain.IndexJob) error
	MarkProcessing(ctx context.Context, job *domain.IndexJob)
	MarkSucceeded(ctx context.Context, job *domain.IndexJob)
	MarkRetry(ctx context.Context, job *domain.IndexJob, cause error)
	FailPermanently(ctx context.Context, job *domain.IndexJob, cause error) error
}

type SearchUC interface {
	SearchByText(ctx context.Context, req *TextSearchReq) (*SearchRes, error)
	SearchByImage(ctx context.Context, req *ImageSearchReq) (*SearchRes, error)
	SearchSimilar(ctx context.Context, req *SimilarSearchReq) (*SearchRes, error)
	IndexInfo(ctx context.Context) (*IndexInfoRes, error)
}

type ReindexUC interface {
	ReindexAll(ctx context.Context, req *ReindexReq) (*ReindexRes, error)
	IndexBatch(ctx context.Context, req *ReindexReq) (*ReindexRes, error)
}
