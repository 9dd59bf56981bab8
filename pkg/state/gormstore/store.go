// Package gormstore persists state snapshots in a SQL table through gorm.
// Open uses the pure-Go modernc SQLite driver so no cgo toolchain is needed.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"

	"github.com/goliatone/go-tracker/pkg/state"
)

// Open returns a gorm handle on the SQLite database at path.
func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

// Migrate creates or updates the snapshot table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&SnapshotModel{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

// Store is a state.Store that keeps JSON encoded snapshots in SQL.
type Store[T any] struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ state.Store[json.RawMessage] = (*Store[json.RawMessage])(nil)
	_ state.Lister                 = (*Store[json.RawMessage])(nil)
	_ state.Deleter                = (*Store[json.RawMessage])(nil)
)

func New[T any](db *gorm.DB) *Store[T] {
	return &Store[T]{db: db, now: time.Now}
}

func (s *Store[T]) Load(ctx context.Context, ref state.Ref) (T, state.Meta, bool, error) {
	var zero T
	id, err := ref.Identifier()
	if err != nil {
		return zero, state.Meta{}, false, err
	}

	var row SnapshotModel
	err = s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, state.Meta{}, false, nil
	}
	if err != nil {
		return zero, state.Meta{}, false, fmt.Errorf("gormstore: load %s: %w", id, err)
	}

	var snapshot T
	if err := json.Unmarshal(row.Payload, &snapshot); err != nil {
		return zero, state.Meta{}, false, fmt.Errorf("gormstore: decode %s: %w", id, err)
	}
	meta := state.Meta{
		SnapshotID: row.SnapshotID,
		ETag:       row.ETag,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if len(row.Extra) > 0 {
		if err := json.Unmarshal(row.Extra, &meta.Extra); err != nil {
			return zero, state.Meta{}, false, fmt.Errorf("gormstore: decode %s extra: %w", id, err)
		}
	}
	return snapshot, meta, true, nil
}

func (s *Store[T]) Save(ctx context.Context, ref state.Ref, snapshot T, meta state.Meta) (state.Meta, error) {
	id, err := ref.Identifier()
	if err != nil {
		return state.Meta{}, err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return state.Meta{}, fmt.Errorf("gormstore: encode %s: %w", id, err)
	}
	stamped, err := state.Stamp(json.RawMessage(payload), meta, s.now())
	if err != nil {
		return state.Meta{}, err
	}

	row := SnapshotModel{
		ID:         id,
		Kind:       string(ref.Kind),
		Tenant:     ref.Tenant,
		Name:       ref.Name,
		Payload:    payload,
		SnapshotID: stamped.SnapshotID,
		ETag:       stamped.ETag,
		UpdatedAt:  stamped.UpdatedAt,
	}
	if len(stamped.Extra) > 0 {
		if row.Extra, err = json.Marshal(stamped.Extra); err != nil {
			return state.Meta{}, fmt.Errorf("gormstore: encode %s extra: %w", id, err)
		}
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "snapshot_id", "etag", "extra", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return state.Meta{}, fmt.Errorf("gormstore: save %s: %w", id, err)
	}
	return stamped, nil
}

func (s *Store[T]) Delete(ctx context.Context, ref state.Ref) error {
	id, err := ref.Identifier()
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&SnapshotModel{})
	if res.Error != nil {
		return fmt.Errorf("gormstore: delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return state.ErrNotFound
	}
	return nil
}

// List returns refs of kind ordered by identifier; an empty kind lists all.
func (s *Store[T]) List(ctx context.Context, kind state.Kind) ([]state.Ref, error) {
	q := s.db.WithContext(ctx).Model(&SnapshotModel{}).Select("id", "kind", "tenant", "name")
	if kind != "" {
		q = q.Where("kind = ?", string(kind))
	}
	rows := make([]SnapshotModel, 0)
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list: %w", err)
	}
	refs := make([]state.Ref, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, state.Ref{Kind: state.Kind(row.Kind), Name: row.Name, Tenant: row.Tenant})
	}
	return refs, nil
}
