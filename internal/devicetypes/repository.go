// Package devicetypes is the data access layer for recording device type
// metadata held in the clinical relational store.
package devicetypes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savegress/telecare/pkg/models"
)

var (
	ErrNotFound  = errors.New("device type not found")
	ErrDuplicate = errors.New("device type already exists")
)

// DB is the subset of pgxpool.Pool the repository needs
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Connect opens a connection pool against the clinical store
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Repository queries recording device type metadata, with a read-through
// cache in front of point lookups
type Repository struct {
	db    DB
	cache *Cache
}

// NewRepository creates a repository. cache may be a disabled cache.
func NewRepository(db DB, cache *Cache) *Repository {
	return &Repository{db: db, cache: cache}
}

// FindByTypeMakeModelDisplayName returns the device type matching all four
// attributes
func (r *Repository) FindByTypeMakeModelDisplayName(ctx context.Context, typ, devMake, model, displayName string) (*models.DeviceType, error) {
	cacheKey := strings.Join([]string{typ, devMake, model, displayName}, "|")
	if r.cache != nil && r.cache.IsEnabled() {
		var cached models.DeviceType
		if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	query := `
		SELECT id, type, make, model, display_name, created_at, updated_at
		FROM recording_device_types
		WHERE type = $1 AND make = $2 AND model = $3 AND display_name = $4
	`

	dt := &models.DeviceType{}
	err := r.db.QueryRow(ctx, query, typ, devMake, model, displayName).Scan(
		&dt.ID, &dt.Type, &dt.Make, &dt.Model, &dt.DisplayName,
		&dt.CreatedAt, &dt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find device type: %w", err)
	}

	if r.cache != nil && r.cache.IsEnabled() {
		if err := r.cache.Set(ctx, cacheKey, dt); err != nil {
			log.Printf("devicetypes: cache set failed: %v", err)
		}
	}
	return dt, nil
}

// FindByType returns all device types with the given type token
func (r *Repository) FindByType(ctx context.Context, typ string) ([]models.DeviceType, error) {
	query := `
		SELECT id, type, make, model, display_name, created_at, updated_at
		FROM recording_device_types
		WHERE type = $1
		ORDER BY make, model
	`

	rows, err := r.db.Query(ctx, query, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to query device types: %w", err)
	}
	defer rows.Close()

	return scanDeviceTypes(rows)
}

// List returns all device types
func (r *Repository) List(ctx context.Context) ([]models.DeviceType, error) {
	query := `
		SELECT id, type, make, model, display_name, created_at, updated_at
		FROM recording_device_types
		ORDER BY type, make, model
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query device types: %w", err)
	}
	defer rows.Close()

	return scanDeviceTypes(rows)
}

// Create inserts a device type and fills in its generated fields
func (r *Repository) Create(ctx context.Context, dt *models.DeviceType) error {
	now := time.Now().UTC()

	query := `
		INSERT INTO recording_device_types (type, make, model, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, dt.Type, dt.Make, dt.Model, dt.DisplayName, now).Scan(
		&dt.ID, &dt.CreatedAt, &dt.UpdatedAt,
	)
	if err != nil {
		if isDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create device type: %w", err)
	}
	return nil
}

func scanDeviceTypes(rows pgx.Rows) ([]models.DeviceType, error) {
	var out []models.DeviceType
	for rows.Next() {
		var dt models.DeviceType
		err := rows.Scan(&dt.ID, &dt.Type, &dt.Make, &dt.Model, &dt.DisplayName,
			&dt.CreatedAt, &dt.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device type: %w", err)
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

func isDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
