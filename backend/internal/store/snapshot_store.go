package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type SnapshotStore struct{ db *gorm.DB }

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, objectID string, rev uint64, content string) error {
	row := SnapshotRow{ObjectID: objectID, RevID: rev, Content: content}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			// 同一个版本的快照内容一定相同
			return nil
		}
		return err
	}
	return nil
}

// LatestSnapshot 没有快照时 ok 为 false
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, objectID string) (uint64, string, bool, error) {
	var row SnapshotRow
	err := s.db.WithContext(ctx).Where("object_id = ?", objectID).Order("rev_id DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, "", false, nil
		}
		return 0, "", false, err
	}
	return row.RevID, row.Content, true, nil
}
