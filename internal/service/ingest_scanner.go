package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
	"github.com/halcyonlabs/outreach-engine/internal/repository"
)

const (
	defaultIngestScanInterval = 5 * time.Second
	defaultIngestScanLimit    = 100
)

// CallbackProcessor consumes one staged callback record.
type CallbackProcessor interface {
	Process(ctx context.Context, record *domain.CallbackRecord) error
}

// IngestScanner drains unprocessed callback records oldest-first. A failed
// record stays unprocessed and is re-driven on a later tick; dead ends are
// marked processed by the processor itself.
type IngestScanner struct {
	callbacks repository.CallbackRepository
	processor CallbackProcessor
	logger    *zap.Logger
	interval  time.Duration
	limit     int
}

func NewIngestScanner(
	callbacks repository.CallbackRepository,
	processor CallbackProcessor,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*IngestScanner, error) {
	if callbacks == nil {
		return nil, fmt.Errorf("callback repository is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("callback processor is required")
	}
	if interval <= 0 {
		interval = defaultIngestScanInterval
	}
	if limit <= 0 {
		limit = defaultIngestScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IngestScanner{
		callbacks: callbacks,
		processor: processor,
		logger:    logger,
		interval:  interval,
		limit:     limit,
	}, nil
}

func (s *IngestScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanPending(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("ingest initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanPending(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("ingest scan failed", zap.Error(err))
			}
		}
	}
}

func (s *IngestScanner) scanPending(ctx context.Context) error {
	records, err := s.callbacks.GetUnprocessed(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch unprocessed callbacks: %w", err)
	}

	for i := range records {
		record := records[i]
		if err := s.processor.Process(ctx, &record); err != nil {
			s.logger.Error("failed to process callback record",
				zap.String("callbackId", record.ID),
				zap.String("providerCallId", record.ProviderCallID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
