package storage

import (
	"context"
	"errors"

	"property-feed-sync/models"
)

var (
	// ErrNotFound is returned when no property carries the requested external_id.
	ErrNotFound = errors.New("storage: property not found")
	// ErrDuplicate is returned by Insert when the external_id already exists.
	ErrDuplicate = errors.New("storage: duplicate external_id")
)

// PropertyStore is the keyed upsert surface every backend must satisfy.
// Properties are identified by ExternalID only.
type PropertyStore interface {
	// LookupID returns the surrogate id of the property keyed by externalID,
	// or ErrNotFound.
	LookupID(ctx context.Context, externalID string) (int64, error)
	Insert(ctx context.Context, p *models.Property) error
	// Update overwrites every mapped field of the property keyed by
	// p.ExternalID and refreshes updated_at.
	Update(ctx context.Context, p *models.Property) error
	Close() error
}

// Locker serialises work on a key, possibly across processes. The returned
// function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Archiver mirrors a processed feed file to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// PropertyDumper writes a batch of mapped records for offline inspection.
type PropertyDumper interface {
	WriteProperties(props []*models.Property) error
	Close() error
}
