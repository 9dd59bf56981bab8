package gormstore

import "time"

// SnapshotModel is one persisted snapshot row.
type SnapshotModel struct {
	ID         string `gorm:"primaryKey"`
	Kind       string `gorm:"not null;index"`
	Tenant     string `gorm:"not null;default:''"`
	Name       string `gorm:"not null"`
	Payload    []byte `gorm:"not null"`
	SnapshotID string `gorm:"not null"`
	ETag       string `gorm:"column:etag;not null"`
	Extra      []byte
	UpdatedAt  time.Time
}

func (SnapshotModel) TableName() string { return "tracker_snapshots" }
