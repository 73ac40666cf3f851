package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estate_chat/internal/domain"
	apperrors "estate_chat/pkg/errors"
	"estate_chat/pkg/logger"
)

type ListingRepository interface {
	GetSummary(ctx context.Context, id uuid.UUID) (*domain.ListingSummary, error)
}

type listingRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewListingRepository(db *pgxpool.Pool, log logger.Logger) ListingRepository {
	return &listingRepository{db: db, log: log}
}

func (r *listingRepository) GetSummary(ctx context.Context, id uuid.UUID) (*domain.ListingSummary, error) {
	query := `SELECT id, owner_id, title, price, image_url FROM listings WHERE id = $1`

	listing := &domain.ListingSummary{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&listing.ID, &listing.OwnerID, &listing.Title, &listing.Price, &listing.ImageURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrListingNotFound
		}
		r.log.Error("Failed to get listing", "error", err, "listing_id", id)
		return nil, err
	}
	return listing, nil
}
