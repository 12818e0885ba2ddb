package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"property-feed-sync/models"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore persists properties to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := NewPostgresStoreFromDB(db)
	if err := ps.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

// NewPostgresStoreFromDB wraps an already opened database handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the properties table and its indexes when missing.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS properties (
			id               BIGSERIAL     PRIMARY KEY,
			external_id      TEXT          UNIQUE NOT NULL,
			title            TEXT          NOT NULL,
			price            NUMERIC(14,2) NOT NULL DEFAULT 0,
			location         TEXT          NOT NULL DEFAULT '',
			status           VARCHAR(20)   NOT NULL DEFAULT 'for_sale',
			image            TEXT          NOT NULL DEFAULT '',
			photo_principal  TEXT,
			photos           TEXT[]        NOT NULL DEFAULT '{}',
			beds             INTEGER       NOT NULL DEFAULT 0,
			baths            INTEGER       NOT NULL DEFAULT 0,
			area             INTEGER       NOT NULL DEFAULT 0,
			description      TEXT          NOT NULL DEFAULT '',
			prestations      JSONB         NOT NULL DEFAULT '{}',
			surface_totale   NUMERIC(10,2),
			surface_terrasse NUMERIC(10,2),
			surface_balcon   NUMERIC(10,2),
			surface_cave     NUMERIC(10,2),
			surface_garage   NUMERIC(10,2),
			surface_jardin   NUMERIC(10,2),
			dpe_consommation CHAR(1),
			dpe_ges          CHAR(1),
			created_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_properties_status   ON properties(status);
		CREATE INDEX IF NOT EXISTS idx_properties_price    ON properties(price);
		CREATE INDEX IF NOT EXISTS idx_properties_location ON properties(location);
	`)
	return err
}

// LookupID returns the surrogate id of the property keyed by externalID.
func (ps *PostgresStore) LookupID(ctx context.Context, externalID string) (int64, error) {
	var id int64
	err := ps.db.QueryRowContext(ctx,
		`SELECT id FROM properties WHERE external_id = $1`, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: lookup %q: %w", externalID, err)
	}
	return id, nil
}

// Insert creates a new row and fills in the generated id and timestamps.
func (ps *PostgresStore) Insert(ctx context.Context, p *models.Property) error {
	args, err := propertyArgs(p)
	if err != nil {
		return err
	}
	err = ps.db.QueryRowContext(ctx, `
		INSERT INTO properties (
			external_id, title, price, location, status, image, photo_principal,
			photos, beds, baths, area, description, prestations,
			surface_totale, surface_terrasse, surface_balcon, surface_cave,
			surface_garage, surface_jardin, dpe_consommation, dpe_ges
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id, created_at, updated_at
	`, args...).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("postgres: insert %q: %w", p.ExternalID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert %q: %w", p.ExternalID, err)
	}
	return nil
}

// Update overwrites every mapped column and refreshes updated_at.
func (ps *PostgresStore) Update(ctx context.Context, p *models.Property) error {
	args, err := propertyArgs(p)
	if err != nil {
		return err
	}
	err = ps.db.QueryRowContext(ctx, `
		UPDATE properties SET
			title = $2, price = $3, location = $4, status = $5, image = $6,
			photo_principal = $7, photos = $8, beds = $9, baths = $10, area = $11,
			description = $12, prestations = $13,
			surface_totale = $14, surface_terrasse = $15, surface_balcon = $16,
			surface_cave = $17, surface_garage = $18, surface_jardin = $19,
			dpe_consommation = $20, dpe_ges = $21,
			updated_at = NOW()
		WHERE external_id = $1
		RETURNING id, created_at, updated_at
	`, args...).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres: update %q: %w", p.ExternalID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: update %q: %w", p.ExternalID, err)
	}
	return nil
}

// Count returns the number of stored properties.
func (ps *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := ps.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// Ping reports whether the database is reachable.
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// propertyArgs lays out p in column order; $1 is always external_id.
func propertyArgs(p *models.Property) ([]any, error) {
	prestations := p.Prestations
	if prestations == nil {
		prestations = models.Prestations{}
	}
	amenities, err := json.Marshal(prestations)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode prestations of %q: %w", p.ExternalID, err)
	}
	photos := p.Photos
	if photos == nil {
		photos = []string{}
	}

	return []any{
		p.ExternalID, p.Title, p.Price, p.Location, p.Status, p.Image,
		nullString(p.PhotoPrincipal), pq.Array(photos), p.Beds, p.Baths, p.Area,
		p.Description, string(amenities),
		nullFloat(p.SurfaceTotal), nullFloat(p.SurfaceTerrace), nullFloat(p.SurfaceBalcony),
		nullFloat(p.SurfaceCellar), nullFloat(p.SurfaceGarage), nullFloat(p.SurfaceGarden),
		nullString(p.DPEConsumption), nullString(p.DPEEmissions),
	}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
