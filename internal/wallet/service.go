// Package wallet credits sellers for paid orders. Each order produces at most
// one earning ledger row; the balance increment and the ledger row are
// committed together or not at all.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/currency"
	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
)

// EarningResult describes what ProcessSellerEarning did. Skipped is true when
// the order had already been credited; EntryID then names the existing row.
type EarningResult struct {
	Skipped     bool      `json:"skipped"`
	EntryID     string    `json:"entry_id"`
	WalletID    string    `json:"wallet_id"`
	AmountPI    int64     `json:"amount_pi"`
	ReleaseDate time.Time `json:"release_date"`
}

type Service struct {
	db      *repository.DB
	wallets *repository.WalletRepo
	policy  currency.Policy
	hold    time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewService(db *repository.DB, policy currency.Policy, hold time.Duration, logger *zap.Logger) *Service {
	return &Service{
		db:      db,
		wallets: repository.NewWalletRepo(db),
		policy:  policy,
		hold:    hold,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.Named("wallet"),
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ProcessSellerEarning credits the seller of a paid order with the PI
// equivalent of bankAmount, held as pending until the hold period ends.
// Repeated calls for the same order credit once.
func (s *Service) ProcessSellerEarning(ctx context.Context, order *domain.Order, bankAmount int64) (*EarningResult, error) {
	if err := validateEarning(order, bankAmount); err != nil {
		return nil, err
	}
	amountPI := s.policy.ToPI(bankAmount)
	if amountPI <= 0 {
		return nil, &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("%d VND converts to %d PI at rate %s", bankAmount, amountPI, s.policy.RateVND),
		}
	}

	log := s.logger.With(zap.String("order_id", order.ID), zap.String("seller_id", order.SellerID()))

	existing, err := s.wallets.GetEarningByOrder(ctx, order.ID)
	switch {
	case err == nil:
		log.Info("earning already recorded", zap.String("entry_id", existing.ID))
		return skipped(existing), nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("check existing earning: %w", err)
	}

	now := s.now()
	entry := &domain.WalletLogEntry{
		ID:          ulid.Make().String(),
		OrderID:     order.ID,
		Type:        domain.LogEarning,
		AmountPI:    amountPI,
		AmountVND:   bankAmount,
		Status:      domain.LogStatusPending,
		ReleaseDate: now.Add(s.hold),
		RateVersion: s.policy.Version,
		Description: fmt.Sprintf("Earning from order #%s (%s): %d VND = %d PI, releases %s",
			shortID(order.ID), order.Product.Title, bankAmount, amountPI, now.Add(s.hold).Format("2006-01-02")),
		CreatedAt: now,
	}

	err = s.db.InTx(ctx, func(tx *repository.Tx) error {
		wallets := s.wallets.WithTx(tx)
		w, err := wallets.GetOrCreate(ctx, ulid.Make().String(), order.SellerID(), now)
		if err != nil {
			return err
		}
		entry.WalletID = w.ID
		if err := wallets.CreditPending(ctx, w.ID, amountPI, now); err != nil {
			return err
		}
		return wallets.InsertLog(ctx, entry)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// A concurrent call won the unique earning row; its credit stands and
		// ours was rolled back.
		existing, getErr := s.wallets.GetEarningByOrder(ctx, order.ID)
		if getErr != nil {
			return nil, fmt.Errorf("load concurrent earning: %w", getErr)
		}
		log.Info("earning recorded concurrently", zap.String("entry_id", existing.ID))
		return skipped(existing), nil
	}
	if err != nil {
		return nil, fmt.Errorf("record earning: %w", err)
	}

	log.Info("earning recorded",
		zap.String("entry_id", entry.ID),
		zap.Int64("amount_vnd", bankAmount),
		zap.Int64("amount_pi", amountPI),
		zap.Time("release_date", entry.ReleaseDate))

	return &EarningResult{
		EntryID:     entry.ID,
		WalletID:    entry.WalletID,
		AmountPI:    amountPI,
		ReleaseDate: entry.ReleaseDate,
	}, nil
}

// Wallet returns a seller's wallet and one page of its ledger.
func (s *Service) Wallet(ctx context.Context, sellerID string, page, limit int) (*domain.Wallet, []domain.WalletLogEntry, int, error) {
	w, err := s.wallets.GetBySeller(ctx, sellerID)
	if err != nil {
		return nil, nil, 0, err
	}
	logs, total, err := s.wallets.ListLogs(ctx, w.ID, page, limit)
	if err != nil {
		return nil, nil, 0, err
	}
	return w, logs, total, nil
}

// MaturedPending lists earnings whose hold period has ended.
func (s *Service) MaturedPending(ctx context.Context) ([]domain.WalletLogEntry, error) {
	return s.wallets.ListMaturedPending(ctx, s.now())
}

func validateEarning(order *domain.Order, bankAmount int64) error {
	if order == nil {
		return &domain.ValidationError{Field: "order", Reason: "missing"}
	}
	if order.SellerID() == "" {
		return &domain.ValidationError{Field: "seller_id", Reason: "order has no seller"}
	}
	if order.Status != domain.OrderPaid {
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("order is %s, not paid", order.Status)}
	}
	if bankAmount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}

func skipped(e *domain.WalletLogEntry) *EarningResult {
	return &EarningResult{
		Skipped:     true,
		EntryID:     e.ID,
		WalletID:    e.WalletID,
		AmountPI:    e.AmountPI,
		ReleaseDate: e.ReleaseDate,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
