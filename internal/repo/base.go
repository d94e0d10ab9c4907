// Package repo implements the persistence layer on GORM.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const defaultOpTimeout = 5 * time.Second

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repo: not found")

// base carries the shared GORM handle and query timeout for concrete
// repositories.
type base struct {
	db      *gorm.DB
	timeout time.Duration
}

func newBase(db *gorm.DB) base {
	return base{db: db, timeout: defaultOpTimeout}
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

// get loads a single row by primary key into dst.
func (b base) get(ctx context.Context, dst any, pk any) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	err := b.db.WithContext(ctx).First(dst, pk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// count counts rows matching the given conditions.
func (b base) count(ctx context.Context, model any, query string, args ...any) (int64, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	var n int64
	err := b.db.WithContext(ctx).Model(model).Where(query, args...).Count(&n).Error
	return n, err
}

// exists reports whether any row matches the given conditions.
func (b base) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	n, err := b.count(ctx, model, query, args...)
	return n > 0, err
}
