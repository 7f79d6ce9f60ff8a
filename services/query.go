package services

import (
	"context"
	"errors"
	"strings"

	"drug-analytics/apperrors"
	"drug-analytics/models"
	"drug-analytics/pagination"
	"drug-analytics/repository"

	"go.uber.org/zap"
)

// DrugPage ist eine Seite der globalen Drug-Liste.
type DrugPage struct {
	Drugs     []models.DrugRecord `json:"drugs"`
	Count     int                 `json:"count"`
	NextToken *string             `json:"next_token"`
}

// DrugQueryService beantwortet Lesezugriffe auf persistierte Drug Records.
type DrugQueryService struct {
	drugs  repository.DrugStore
	logger *zap.Logger
}

func NewDrugQueryService(drugs repository.DrugStore, logger *zap.Logger) *DrugQueryService {
	return &DrugQueryService{drugs: drugs, logger: logger}
}

// GetDrug liefert den neuesten Record zu name.
func (q *DrugQueryService) GetDrug(ctx context.Context, name string) (*models.DrugRecord, error) {
	name, err := drugName(name)
	if err != nil {
		return nil, err
	}
	rec, err := q.drugs.LatestByName(ctx, name)
	if err != nil {
		return nil, q.queryError("get drug", err)
	}
	return rec, nil
}

// GetDrugHistory liefert alle Records zu name, neueste zuerst.
func (q *DrugQueryService) GetDrugHistory(ctx context.Context, name string) ([]models.DrugRecord, error) {
	name, err := drugName(name)
	if err != nil {
		return nil, err
	}
	records, err := q.drugs.HistoryByName(ctx, name)
	if err != nil {
		return nil, q.queryError("get drug history", err)
	}
	return records, nil
}

// ListDrugs liefert eine Seite. token ist leer für die erste Seite.
func (q *DrugQueryService) ListDrugs(ctx context.Context, limit int, token string) (*DrugPage, error) {
	limit, err := pagination.NormalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	var after *pagination.Cursor
	if token != "" {
		c, err := pagination.Decode(token)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	records, next, err := q.drugs.List(ctx, limit, after)
	if err != nil {
		return nil, q.queryError("list drugs", err)
	}
	if records == nil {
		records = []models.DrugRecord{}
	}
	page := &DrugPage{Drugs: records, Count: len(records)}
	if next != nil {
		encoded := pagination.Encode(*next)
		page.NextToken = &encoded
	}
	return page, nil
}

func drugName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.NewValidationError("drug_name", "cannot be empty")
	}
	return name, nil
}

func (q *DrugQueryService) queryError(op string, err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	q.logger.Error("Record store query failed", zap.String("op", op), zap.Error(err))
	return apperrors.Dependency(op, err)
}
