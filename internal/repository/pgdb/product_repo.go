package pgdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/tr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

const productColumns = `
	id, external_id, title, description, category, price, currency,
	image_url, image_key, metadata, embedding_id, embedding_version,
	last_event_id, created_at, updated_at, deleted_at`

// ProductRepo реализует репозиторий товаров поверх PostgreSQL.
type ProductRepo struct {
	pool *pgxpool.Pool
	conv converter.ProductConverter
}

func NewProductRepo(pool *pgxpool.Pool, conv converter.ProductConverter) *ProductRepo {
	return &ProductRepo{
		pool: pool,
		conv: conv,
	}
}

// Upsert создаёт или обновляет товар по external_id.
// Запись снимает tombstone и увеличивает версию эмбеддинга.
func (p *ProductRepo) Upsert(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	q := tr.QuerierFromCtx(ctx, p.pool)
	model := p.conv.ToModel(product)

	query := `
		INSERT INTO products (
			external_id, title, description, category, price, currency,
			image_url, image_key, metadata, embedding_id, embedding_version, last_event_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11)
		ON CONFLICT (external_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			image_url = EXCLUDED.image_url,
			image_key = EXCLUDED.image_key,
			metadata = EXCLUDED.metadata,
			embedding_id = EXCLUDED.embedding_id,
			embedding_version = products.embedding_version + 1,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = NOW(),
			deleted_at = NULL
		RETURNING` + productColumns

	row := q.QueryRow(ctx, query,
		model.ExternalID,
		model.Title,
		model.Description,
		model.Category,
		model.Price,
		model.Currency,
		model.ImageURL,
		model.ImageKey,
		model.Metadata,
		model.EmbeddingID,
		model.LastEventID,
	)

	saved, err := scanProduct(row)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return p.conv.ToEntity(saved), nil
}

// GetByExternalID возвращает товар, включая удалённый. Отсутствующий товар — e.ErrProductNotFound.
func (p *ProductRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Product, error) {
	q := tr.QuerierFromCtx(ctx, p.pool)

	query := `SELECT` + productColumns + `
		FROM products
		WHERE external_id = $1`

	model, err := scanProduct(q.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %s", e.ErrProductNotFound, externalID))
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return p.conv.ToEntity(model), nil
}

// MarkDeleted ставит tombstone. Для неизвестного товара создаётся пустая удалённая запись,
// чтобы запоздавшее обновление не воскресило его.
func (p *ProductRepo) MarkDeleted(ctx context.Context, externalID string, eventID string, at time.Time) error {
	q := tr.QuerierFromCtx(ctx, p.pool)

	query := `
		INSERT INTO products (external_id, last_event_id, deleted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id)
		DO UPDATE SET
			last_event_id = EXCLUDED.last_event_id,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = NOW()`

	if _, err := q.Exec(ctx, query, externalID, eventID, at); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// ListIndexable возвращает страницу живых товаров с изображением, упорядоченную по id.
func (p *ProductRepo) ListIndexable(ctx context.Context, afterID int64, limit int) ([]*domain.Product, error) {
	q := tr.QuerierFromCtx(ctx, p.pool)

	query := `SELECT` + productColumns + `
		FROM products
		WHERE id > $1
			AND deleted_at IS NULL
			AND (image_url <> '' OR image_key <> '')
		ORDER BY id
		LIMIT $2`

	rows, err := q.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query indexable products: %w", whereami.WhereAmI(), err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		model, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan product: %w", whereami.WhereAmI(), err)
		}
		products = append(products, p.conv.ToEntity(model))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows iterator error: %w", whereami.WhereAmI(), err)
	}

	return products, nil
}

func scanProduct(row pgx.Row) (*converter.ProductModel, error) {
	var model converter.ProductModel
	err := row.Scan(
		&model.ID, &model.ExternalID, &model.Title, &model.Description, &model.Category,
		&model.Price, &model.Currency, &model.ImageURL, &model.ImageKey, &model.Metadata,
		&model.EmbeddingID, &model.EmbeddingVersion, &model.LastEventID,
		&model.CreatedAt, &model.UpdatedAt, &model.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &model, nil
}
