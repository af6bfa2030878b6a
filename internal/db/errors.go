package db

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

var (
	// ErrMissing is returned when no image has the requested id.
	ErrMissing = errors.New("image not found")

	// ErrConflict is returned when the filename is already taken.
	ErrConflict = errors.New("image with the same filename exists")
)

func isUniqueViolation(err error) bool {
	var pgerr *pgconn.PgError
	return errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation
}
