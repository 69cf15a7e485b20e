package store

import (
	"context"
	"database/sql"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListByIDs returns the catalog items whose ids are in ids. Missing ids are
// simply absent from the result.
func (r *CatalogRepository) ListByIDs(ctx context.Context, ids []int) ([]models.CatalogItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, args := placeholders(ids)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, picture_uri FROM catalog_items WHERE id IN (`+in+`) ORDER BY id`, args...)
	if err != nil {
		return nil, apperr.E(apperr.StorageFailure, "CatalogRepository.ListByIDs", "query catalog items", err)
	}
	defer rows.Close()

	var items []models.CatalogItem
	for rows.Next() {
		var item models.CatalogItem
		if err := rows.Scan(&item.ID, &item.Name, &item.PictureURI); err != nil {
			return nil, apperr.E(apperr.StorageFailure, "CatalogRepository.ListByIDs", "scan catalog item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.E(apperr.StorageFailure, "CatalogRepository.ListByIDs", "iterate catalog items", err)
	}
	return items, nil
}
