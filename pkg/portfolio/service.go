package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// HistorySource returns one page of transactions, newest first.
type HistorySource interface {
	History(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

type Snapshot struct {
	Transactions []models.Transaction              `json:"-"`
	Metrics      Metrics                           `json:"metrics"`
	Holdings     map[models.Symbol]decimal.Decimal `json:"holdings"`
}

// Service refreshes the history wholesale and folds it.
type Service struct {
	src        HistorySource
	pageSize   int
	maxRecords int
}

func NewService(src HistorySource, pageSize, maxRecords int) *Service {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &Service{src: src, pageSize: pageSize, maxRecords: maxRecords}
}

// Refresh pages through the history until a short page or maxRecords.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	var all []models.Transaction
	for offset := 0; offset < s.maxRecords; offset += s.pageSize {
		limit := min(s.pageSize, s.maxRecords-offset)
		page, err := s.src.History(ctx, limit, offset)
		if err != nil {
			return Snapshot{}, fmt.Errorf("fetch history at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < limit {
			break
		}
	}

	return Snapshot{
		Transactions: all,
		Metrics:      Aggregate(all),
		Holdings:     Holdings(all),
	}, nil
}
