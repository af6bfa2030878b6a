package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/Brownie44l1/dogs-api/internal/model"
)

type Image struct {
	Id          int64
	Filename    *string
	File        string // base64 of the uploaded bytes
	Predictions model.Predictions
	GroundTruth *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (i Image) Predicted() bool {
	return i.Predictions != nil
}

type NewImage struct {
	Filename    *string
	File        string
	GroundTruth *string
}

type ListQuery struct {
	// Predicted filters by whether predictions are stored. Nil means both.
	Predicted *bool
	Limit     int
	Offset    int
}

type ImagesInterface interface {
	Create(ctx context.Context, image NewImage) (*Image, error)
	Get(ctx context.Context, id int64) (*Image, error)
	List(ctx context.Context, query ListQuery) ([]Image, error)
	UpdatePredictions(ctx context.Context, id int64, predictions model.Predictions) (*Image, error)
	Delete(ctx context.Context, id int64) (int64, error)
}

const imageColumns = `id, filename, file, predictions::text, ground_truth, created_at, updated_at`

const (
	createImageQuery = `
INSERT INTO images (filename, file, ground_truth)
VALUES ($1, $2, $3)
RETURNING ` + imageColumns

	getImageByIdQuery = `
SELECT ` + imageColumns + `
FROM images
WHERE id = $1`

	updateImagePredictionsQuery = `
UPDATE images
SET predictions = $2::jsonb, updated_at = now()
WHERE id = $1
RETURNING ` + imageColumns

	deleteImageByIdQuery = `
DELETE FROM images
WHERE id = $1
RETURNING id`
)

type Images struct {
	q Queryer
}

var _ ImagesInterface = &Images{}

func NewImages(q Queryer) *Images {
	return &Images{q: q}
}

func scanImage(row pgx.Row) (*Image, error) {
	var img Image
	var predictions *string
	if err := row.Scan(
		&img.Id, &img.Filename, &img.File, &predictions,
		&img.GroundTruth, &img.CreatedAt, &img.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if predictions != nil {
		if err := json.Unmarshal([]byte(*predictions), &img.Predictions); err != nil {
			return nil, fmt.Errorf("broken predictions for image %d: %w", img.Id, err)
		}
		if img.Predictions == nil {
			img.Predictions = model.Predictions{}
		}
	}
	return &img, nil
}

func (r *Images) Create(ctx context.Context, image NewImage) (*Image, error) {
	created, err := scanImage(r.q.QueryRow(
		ctx, createImageQuery, image.Filename, image.File, image.GroundTruth,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create image: %w", err)
	}
	return created, nil
}

func (r *Images) Get(ctx context.Context, id int64) (*Image, error) {
	img, err := scanImage(r.q.QueryRow(ctx, getImageByIdQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMissing
	} else if err != nil {
		return nil, fmt.Errorf("failed to get image %d: %w", id, err)
	}
	return img, nil
}

func buildListQuery(query ListQuery) (string, []interface{}) {
	sql := strings.Builder{}
	sql.WriteString("SELECT " + imageColumns + " FROM images")
	args := []interface{}{}

	if query.Predicted != nil {
		if *query.Predicted {
			sql.WriteString(" WHERE predictions IS NOT NULL")
		} else {
			sql.WriteString(" WHERE predictions IS NULL")
		}
	}
	sql.WriteString(" ORDER BY id")
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sql.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sql.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}
	return sql.String(), args
}

func (r *Images) List(ctx context.Context, query ListQuery) ([]Image, error) {
	sql, args := buildListQuery(query)
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	images := []Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list images: %w", err)
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

// UpdatePredictions stores predictions in one statement. When the image was
// deleted in the meantime nothing is written and ErrMissing is returned.
func (r *Images) UpdatePredictions(ctx context.Context, id int64, predictions model.Predictions) (*Image, error) {
	if predictions == nil {
		predictions = model.Predictions{}
	}
	payload, err := json.Marshal(predictions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode predictions: %w", err)
	}

	img, err := scanImage(r.q.QueryRow(ctx, updateImagePredictionsQuery, id, string(payload)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMissing
	} else if err != nil {
		return nil, fmt.Errorf("failed to update predictions of image %d: %w", id, err)
	}
	return img, nil
}

func (r *Images) Delete(ctx context.Context, id int64) (int64, error) {
	var deleted int64
	err := r.q.QueryRow(ctx, deleteImageByIdQuery, id).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrMissing
	} else if err != nil {
		return 0, fmt.Errorf("failed to delete image %d: %w", id, err)
	}
	return deleted, nil
}
