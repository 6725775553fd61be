package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/reconciliation"
)

type transferProcessor interface {
	ProcessTransfer(ctx context.Context, n domain.TransferNotification) (*reconciliation.Result, error)
}

type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ImportResult summarises a statement backfill.
type ImportResult struct {
	FileHash string         `json:"file_hash"`
	Rows     int            `json:"rows"`
	ByStatus map[string]int `json:"by_status"`
	Failed   []RowError     `json:"failed,omitempty"`
}

// Service backfills transfers the webhook missed from a statement export.
// Every row goes through the same pipeline as a live notification, so rows
// already seen are absorbed by the transaction-id gate.
type Service struct {
	processor transferProcessor
	logger    *zap.Logger
}

func NewService(processor transferProcessor, logger *zap.Logger) *Service {
	return &Service{processor: processor, logger: logger.Named("ingestion")}
}

// ImportStatement parses data and processes each valid row in file order.
// A storage failure stops the import and is returned; rows processed before
// it stay processed, and re-importing the same file is safe.
func (s *Service) ImportStatement(ctx context.Context, data []byte) (*ImportResult, error) {
	rows, err := ParseStatementCSV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}

	res := &ImportResult{
		FileHash: fmt.Sprintf("%x", sha256.Sum256(data)),
		Rows:     len(rows),
		ByStatus: make(map[string]int),
	}
	log := s.logger.With(zap.String("file_hash", res.FileHash[:12]))

	for _, row := range rows {
		if row.Err != nil {
			res.Failed = append(res.Failed, RowError{Line: row.Line, Error: row.Err.Error()})
			continue
		}
		out, err := s.processor.ProcessTransfer(ctx, row.Notification)
		if err != nil {
			return res, fmt.Errorf("line %d: %w", row.Line, err)
		}
		res.ByStatus[string(out.Status)]++
	}

	log.Info("statement imported",
		zap.Int("rows", res.Rows),
		zap.Int("failed", len(res.Failed)),
		zap.Any("by_status", res.ByStatus))
	return res, nil
}
