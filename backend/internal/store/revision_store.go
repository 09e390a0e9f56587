package store

import (
	"context"
	"errors"
	"fmt"

	"folderSync/backend/internal/revision"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type GormRevisionStore struct {
	db *gorm.DB
}

func NewGormRevisionStore(db *gorm.DB) *GormRevisionStore {
	return &GormRevisionStore{db: db}
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func (s *GormRevisionStore) Append(ctx context.Context, objectID string, rec revision.Record) error {
	row := rowFromRecord(objectID, rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s@%d already stored", revision.ErrOutOfOrder, objectID, rec.RevID)
		}
		return err
	}
	return nil
}

func (s *GormRevisionStore) Read(ctx context.Context, objectID string, rng revision.Range) ([]revision.Record, error) {
	var rows []RevisionRow
	err := s.db.WithContext(ctx).
		Where("object_id = ? AND rev_id BETWEEN ? AND ?", objectID, rng.Start, rng.End).
		Order("rev_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]revision.Record, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

func (s *GormRevisionStore) Latest(ctx context.Context, objectID string) (uint64, bool, error) {
	var row RevisionRow
	err := s.db.WithContext(ctx).Where("object_id = ?", objectID).Order("rev_id DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.RevID, true, nil
}

func (s *GormRevisionStore) Ack(ctx context.Context, objectID string, revID uint64) error {
	return s.db.WithContext(ctx).Model(&RevisionRow{}).
		Where("object_id = ? AND rev_id = ?", objectID, revID).
		Update("state", int8(revision.StateAcked)).Error
}

func (s *GormRevisionStore) ReplaceTail(ctx context.Context, objectID string, from uint64, recs []revision.Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("object_id = ? AND rev_id >= ?", objectID, from).Delete(&RevisionRow{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		rows := make([]RevisionRow, len(recs))
		for i, rec := range recs {
			rows[i] = rowFromRecord(objectID, rec)
		}
		return tx.Create(&rows).Error
	})
}

func (s *GormRevisionStore) Reset(ctx context.Context, objectID string) error {
	return s.db.WithContext(ctx).Where("object_id = ?", objectID).Delete(&RevisionRow{}).Error
}
