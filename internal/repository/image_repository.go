package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imagedrop/internal/models"
)

var ErrImageNotFound = errors.New("image not found")

type ImageRepository struct {
	pool *pgxpool.Pool
}

func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

func (r *ImageRepository) Create(ctx context.Context, image models.Image) error {
	const query = `
		INSERT INTO images (
			id, owner_id, location, media_type, size_bytes, checksum, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.pool.Exec(ctx, query,
		image.ID,
		image.OwnerID,
		image.Location,
		image.MediaType,
		image.SizeBytes,
		image.Checksum,
		image.CreatedAt,
	)
	return err
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (models.Image, error) {
	const query = `
		SELECT id, owner_id, location, media_type, size_bytes, checksum, created_at
		FROM images WHERE id = $1
	`

	image, err := scanImage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, err
	}
	return image, nil
}

// Delete removes the record and returns it, so callers learn the blob
// location without a separate read.
func (r *ImageRepository) Delete(ctx context.Context, id string) (models.Image, error) {
	const query = `
		DELETE FROM images WHERE id = $1
		RETURNING id, owner_id, location, media_type, size_bytes, checksum, created_at
	`

	image, err := scanImage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, err
	}
	return image, nil
}

func (r *ImageRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM images WHERE id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *ImageRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Image, error) {
	const query = `
		SELECT id, owner_id, location, media_type, size_bytes, checksum, created_at
		FROM images
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

func scanImage(row pgx.Row) (models.Image, error) {
	var image models.Image
	err := row.Scan(
		&image.ID,
		&image.OwnerID,
		&image.Location,
		&image.MediaType,
		&image.SizeBytes,
		&image.Checksum,
		&image.CreatedAt,
	)
	return image, err
}
