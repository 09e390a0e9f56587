package store

import (
	"time"

	"folderSync/backend/internal/revision"
)

type RevisionRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ObjectID  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_object_rev,priority:1"`
	RevID     uint64 `gorm:"not null;uniqueIndex:idx_object_rev,priority:2"`
	BaseRevID uint64 `gorm:"not null"`
	Delta     []byte `gorm:"type:longblob"`
	AuthorID  string `gorm:"type:varchar(64)"`
	Checksum  string `gorm:"type:char(32)"`
	State     int8   `gorm:"default:0"`
	CreatedAt time.Time
}

func (RevisionRow) TableName() string { return "revisions" }

func rowFromRecord(objectID string, rec revision.Record) RevisionRow {
	return RevisionRow{
		ObjectID:  objectID,
		RevID:     rec.RevID,
		BaseRevID: rec.BaseRevID,
		Delta:     rec.Delta,
		AuthorID:  rec.AuthorID,
		Checksum:  rec.Checksum,
		State:     int8(rec.State),
	}
}

func (r RevisionRow) record() revision.Record {
	return revision.Record{
		Revision: revision.New(r.ObjectID, r.BaseRevID, r.RevID, r.Delta, r.AuthorID, r.Checksum),
		State:    revision.State(r.State),
	}
}

type SnapshotRow struct {
	ObjectID  string `gorm:"primaryKey;type:varchar(64)"`
	RevID     uint64 `gorm:"primaryKey"`
	Content   string `gorm:"type:longtext"`
	CreatedAt time.Time
}

func (SnapshotRow) TableName() string { return "document_snapshots" }
