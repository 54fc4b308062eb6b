package converter

import "github.com/DRSN-tech/visual-search/internal/domain"

func ToIndexJobRedisModel(job *domain.IndexJob) *IndexJobRedisModel {
	return &IndexJobRedisModel{
		ID:         job.ID,
		EventID:    job.EventID,
		EventType:  string(job.EventType),
		ExternalID: job.ExternalID,
		Operation:  string(job.Operation),
		ImageKey:   job.Image.Key,
		ImageURL:   job.Image.URL,
		Product: ProductDataRedisModel{
			Title:       job.Product.Title,
			Description: job.Product.Description,
			Category:    job.Product.Category,
			Price:       job.Product.Price,
			Currency:    job.Product.Currency,
			Metadata:    job.Product.Metadata,
		},
		Batch:      job.Batch,
		Attempt:    job.Attempt,
		EnqueuedAt: job.EnqueuedAt,
	}
}

// ToIndexJob восстанавливает задачу. Receipt заполняет очередь.
func ToIndexJob(model *IndexJobRedisModel) *domain.IndexJob {
	image := domain.ImageRef{Key: model.ImageKey, URL: model.ImageURL}

	return &domain.IndexJob{
		ID:         model.ID,
		EventID:    model.EventID,
		EventType:  domain.EventType(model.EventType),
		ExternalID: model.ExternalID,
		Operation:  domain.JobOperation(model.Operation),
		Image:      image,
		Product: domain.ProductData{
			ExternalID:  model.ExternalID,
			Title:       model.Product.Title,
			Description: model.Product.Description,
			Category:    model.Product.Category,
			Price:       model.Product.Price,
			Currency:    model.Product.Currency,
			Image:       image,
			Metadata:    model.Product.Metadata,
		},
		Batch:      model.Batch,
		Attempt:    model.Attempt,
		EnqueuedAt: model.EnqueuedAt,
	}
}
