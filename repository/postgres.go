package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drug-analytics/apperrors"
	"drug-analytics/models"
	"drug-analytics/pagination"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const listingOrder = "upload_timestamp DESC, drug_name DESC, record_id DESC"

// OpenPostgres öffnet die Datenbank und migriert beide Tabellen.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&models.DrugRecord{}, &models.UploadStatus{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return db, nil
}

// PostgresStore implementiert UploadStatusStore und DrugStore mit gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore erstellt einen Store auf einer bereits migrierten Datenbank.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateStatus(ctx context.Context, s models.UploadStatus) error {
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&s)
	if res.Error != nil {
		return fmt.Errorf("insert upload status %s: %w", s.UploadID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("upload %s: %w", s.UploadID, apperrors.ErrConflict)
	}
	return nil
}

func (p *PostgresStore) GetStatus(ctx context.Context, uploadID string) (*models.UploadStatus, error) {
	var s models.UploadStatus
	if err := p.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get upload status %s: %w", uploadID, err)
	}
	return &s, nil
}

// UpdateStatus nutzt WHERE status = expected als bedingten Schreibvorgang.
func (p *PostgresStore) UpdateStatus(ctx context.Context, uploadID string, u models.StatusUpdate) (*models.UploadStatus, error) {
	changes := map[string]interface{}{
		"status":        u.Next,
		"updated_at":    u.At,
		"error_message": nil,
	}
	if u.Fields.TotalRows != nil {
		changes["total_rows"] = *u.Fields.TotalRows
	}
	if u.Fields.ProcessedRows != nil {
		changes["processed_rows"] = *u.Fields.ProcessedRows
	}
	if u.Next == models.StateFailed && u.Fields.ErrorMessage != nil {
		changes["error_message"] = *u.Fields.ErrorMessage
	}

	var updated models.UploadStatus
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UploadStatus{}).
			Where("upload_id = ? AND status = ?", uploadID, u.Expected).
			Updates(changes)
		if res.Error != nil {
			return fmt.Errorf("update upload status %s: %w", uploadID, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.UploadStatus{}).Where("upload_id = ?", uploadID).Count(&count).Error; err != nil {
				return fmt.Errorf("check upload status %s: %w", uploadID, err)
			}
			if count == 0 {
				return fmt.Errorf("upload %s: %w", uploadID, apperrors.ErrNotFound)
			}
			return fmt.Errorf("upload %s is no longer %s: %w", uploadID, u.Expected, apperrors.ErrStaleTransition)
		}
		return tx.Where("upload_id = ?", uploadID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (p *PostgresStore) ListStatuses(ctx context.Context, state models.UploadState, before time.Time) ([]models.UploadStatus, error) {
	var out []models.UploadStatus
	err := p.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", state, before).
		Order("updated_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list upload statuses: %w", err)
	}
	return out, nil
}

// PutBatch schreibt records in einem INSERT; bereits vorhandene record_ids werden übersprungen.
func (p *PostgresStore) PutBatch(ctx context.Context, records []models.DrugRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if len(records) > MaxBatchSize {
		return 0, fmt.Errorf("batch of %d records exceeds limit of %d", len(records), MaxBatchSize)
	}
	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error; err != nil {
		return 0, fmt.Errorf("insert %d records: %w", len(records), err)
	}
	return len(records), nil
}

func (p *PostgresStore) LatestByName(ctx context.Context, drugName string) (*models.DrugRecord, error) {
	var r models.DrugRecord
	err := p.db.WithContext(ctx).Where("drug_name = ?", drugName).Order(listingOrder).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("drug %q: %w", drugName, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get drug %q: %w", drugName, err)
	}
	return &r, nil
}

func (p *PostgresStore) HistoryByName(ctx context.Context, drugName string) ([]models.DrugRecord, error) {
	var out []models.DrugRecord
	if err := p.db.WithContext(ctx).Where("drug_name = ?", drugName).Order(listingOrder).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("get drug history %q: %w", drugName, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("drug %q: %w", drugName, apperrors.ErrNotFound)
	}
	return out, nil
}

// List nutzt Keyset-Pagination über (upload_timestamp, drug_name, record_id).
func (p *PostgresStore) List(ctx context.Context, limit int, after *pagination.Cursor) ([]models.DrugRecord, *pagination.Cursor, error) {
	q := p.db.WithContext(ctx).Order(listingOrder).Limit(limit + 1)
	if after != nil {
		q = q.Where("(upload_timestamp, drug_name, record_id) < (?, ?, ?)",
			after.UploadTimestamp, after.DrugName, after.RecordID)
	}
	var out []models.DrugRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, nil, fmt.Errorf("list drugs: %w", err)
	}
	records, next := page(out, limit)
	return records, next, nil
}
