package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/delivery"
	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/notify"
	"github.com/pimarket/reconciler/internal/orderref"
	"github.com/pimarket/reconciler/internal/repository"
	"github.com/pimarket/reconciler/internal/tasks"
	"github.com/pimarket/reconciler/internal/wallet"
)

type Status string

const (
	StatusMatched          Status = "matched"
	StatusUnmatched        Status = "unmatched"
	StatusAmountMismatch   Status = "amount_mismatch"
	StatusAlreadyProcessed Status = "already_processed"
	StatusOrderAlreadyPaid Status = "order_already_paid"
	StatusIgnored          Status = "ignored"
)

// Result is the terminal outcome of one transfer notification. Every status
// is a success from the gateway's point of view.
type Result struct {
	Status         Status                 `json:"status"`
	Message        string                 `json:"message"`
	GatewayID      int64                  `json:"gateway_id"`
	TransactionID  string                 `json:"transaction_id,omitempty"`
	OrderID        string                 `json:"order_id,omitempty"`
	Reason         domain.UnmatchedReason `json:"reason,omitempty"`
	ExpectedAmount *int64                 `json:"expected_amount,omitempty"`
	ReceivedAmount int64                  `json:"received_amount,omitempty"`
	DeliveryStatus domain.DeliveryStatus  `json:"delivery_status,omitempty"`
	Earning        *wallet.EarningResult  `json:"earning,omitempty"`
	EarningError   string                 `json:"earning_error,omitempty"`
}

// Mailer sends the payment confirmation emails.
type Mailer interface {
	SendBuyerConfirmation(buyer *domain.User, order *domain.Order) error
	SendSellerSale(seller *domain.User, order *domain.Order, amountPI int64) error
}

// Deps are the collaborators of a Service. Mailer may be nil.
type Deps struct {
	DB              *repository.DB
	Dispatcher      *delivery.Dispatcher
	Wallet          *wallet.Service
	Emitter         notify.Emitter
	Mailer          Mailer
	Runner          *tasks.Runner
	AmountTolerance int64
	Logger          *zap.Logger
}

// Service turns bank-transfer notifications into paid orders and seller
// earnings. A transfer changes money state at most once no matter how often
// the gateway delivers it.
type Service struct {
	txns          *repository.TransactionRepo
	orders        *repository.OrderRepo
	unmatched     *repository.UnmatchedRepo
	catalog       *repository.CatalogRepo
	notifications *repository.NotificationRepo
	matcher       *Matcher
	updater       *StateUpdater
	dispatcher    *delivery.Dispatcher
	wallet        *wallet.Service
	emitter       notify.Emitter
	mailer        Mailer
	runner        *tasks.Runner
	now           func() time.Time
	logger        *zap.Logger
}

func NewService(d Deps) *Service {
	emitter := d.Emitter
	if emitter == nil {
		emitter = notify.Noop{}
	}
	orders := repository.NewOrderRepo(d.DB)
	return &Service{
		txns:          repository.NewTransactionRepo(d.DB),
		orders:        orders,
		unmatched:     repository.NewUnmatchedRepo(d.DB),
		catalog:       repository.NewCatalogRepo(d.DB),
		notifications: repository.NewNotificationRepo(d.DB),
		matcher:       NewMatcher(orders, d.AmountTolerance),
		updater:       NewStateUpdater(d.DB),
		dispatcher:    d.Dispatcher,
		wallet:        d.Wallet,
		emitter:       emitter,
		mailer:        d.Mailer,
		runner:        d.Runner,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        d.Logger.Named("reconciliation"),
	}
}

// ProcessTransfer runs one notification through the pipeline. An error means
// the outcome could not be made durable and the gateway should retry.
func (s *Service) ProcessTransfer(ctx context.Context, n domain.TransferNotification) (*Result, error) {
	log := s.logger.With(zap.Int64("gateway_id", n.GatewayID))

	if n.Direction == domain.DirectionOut {
		log.Info("ignoring outbound transfer")
		return &Result{Status: StatusIgnored, GatewayID: n.GatewayID, Message: "outbound transfer ignored"}, nil
	}

	rec, existed, err := s.txns.Save(ctx, domain.NewTransactionRecord(ulid.Make().String(), n, s.now()))
	if err != nil {
		return nil, fmt.Errorf("save transaction %d: %w", n.GatewayID, err)
	}

	// Once recorded, processing runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if existed && rec.Processed {
		return s.replayProcessed(ctx, rec), nil
	}
	if existed {
		log.Info("retrying unprocessed transaction", zap.String("transaction_id", rec.ID))
	}

	res, err := s.match(ctx, rec)
	if err != nil {
		return nil, err
	}
	log.Info("transfer processed",
		zap.String("status", string(res.Status)),
		zap.String("order_id", res.OrderID),
		zap.String("transaction_id", rec.ID))
	return res, nil
}

func (s *Service) match(ctx context.Context, rec *domain.TransactionRecord) (*Result, error) {
	orderID, ok := orderref.Extract(rec.Content)
	if !ok {
		s.park(ctx, rec, "", domain.ReasonNoOrderID, nil, "no order reference found in transfer content")
		return s.unmatchedResult(rec, "", domain.ReasonNoOrderID, "no order reference found"), nil
	}

	order, err := s.matcher.FindMatchingOrder(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		s.park(ctx, rec, orderID, domain.ReasonOrderNotFound, nil, fmt.Sprintf("order %s does not exist", orderID))
		return s.unmatchedResult(rec, orderID, domain.ReasonOrderNotFound, "order not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}

	if order.Status != domain.OrderAwaitingPayment {
		return s.notPending(ctx, rec, order), nil
	}

	check := s.matcher.VerifyAmount(rec, order)
	if !check.Valid {
		expected := check.Expected
		s.park(ctx, rec, order.ID, domain.ReasonAmountMismatch, &expected,
			fmt.Sprintf("expected %d VND, received %d VND", check.Expected, check.Received))
		res := s.unmatchedResult(rec, order.ID, domain.ReasonAmountMismatch, "transfer amount does not match order")
		res.Status = StatusAmountMismatch
		res.ExpectedAmount = &expected
		return res, nil
	}

	won, err := s.updater.MarkPaid(ctx, order, rec, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark order %s paid: %w", order.ID, err)
	}
	if !won {
		current, err := s.orders.GetByID(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("reload order %s: %w", order.ID, err)
		}
		return s.notPending(ctx, rec, current), nil
	}

	return s.afterPayment(ctx, order.ID, rec), nil
}

// notPending handles a reference to an order that is no longer awaiting
// payment. If this very transfer paid it, the call is a duplicate delivery
// that lost a race; otherwise the transfer is parked for review.
func (s *Service) notPending(ctx context.Context, rec *domain.TransactionRecord, order *domain.Order) *Result {
	if order.BankTransactionID == rec.ID {
		return &Result{
			Status:        StatusAlreadyProcessed,
			Message:       "transaction already processed",
			GatewayID:     rec.GatewayID,
			TransactionID: rec.ID,
			OrderID:       order.ID,
		}
	}

	s.park(ctx, rec, order.ID, domain.ReasonOrderNotPending, nil,
		fmt.Sprintf("order is %s, paid by transaction %s", order.Status, order.BankTransactionID))
	return &Result{
		Status:         StatusOrderAlreadyPaid,
		Message:        "order is not awaiting payment",
		GatewayID:      rec.GatewayID,
		TransactionID:  rec.ID,
		OrderID:        order.ID,
		Reason:         domain.ReasonOrderNotPending,
		ReceivedAmount: rec.Amount,
	}
}

// afterPayment runs delivery, the ledger and the best-effort side effects for
// an order this call just marked paid. Nothing here can undo the payment.
func (s *Service) afterPayment(ctx context.Context, orderID string, rec *domain.TransactionRecord) *Result {
	log := s.logger.With(zap.Int64("gateway_id", rec.GatewayID), zap.String("order_id", orderID))
	res := &Result{
		Status:         StatusMatched,
		Message:        "payment confirmed",
		GatewayID:      rec.GatewayID,
		TransactionID:  rec.ID,
		OrderID:        orderID,
		ReceivedAmount: rec.Amount,
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		log.Error("failed to reload paid order", zap.Error(err))
		res.EarningError = err.Error()
		s.recordEarningFailure(ctx, orderID, err)
		return res
	}

	outcome := s.dispatcher.Dispatch(ctx, order)
	order.DeliveryStatus = outcome.Status
	order.DeliveryNotes = outcome.Notes
	res.DeliveryStatus = outcome.Status

	earning, err := s.wallet.ProcessSellerEarning(ctx, order, rec.Amount)
	if err != nil {
		// The payment stands; a replay of this transfer or the retry
		// endpoint repairs the missing earning.
		log.Error("failed to record seller earning", zap.Error(err))
		res.EarningError = err.Error()
		s.recordEarningFailure(ctx, order.ID, err)
	}
	res.Earning = earning

	s.scheduleSideEffects(order, rec, earning)
	return res
}

// replayProcessed answers a duplicate delivery of a processed transfer. The
// ledger is re-invoked for the linked order: a no-op when the earning exists,
// a repair when an earlier attempt failed after payment was confirmed.
func (s *Service) replayProcessed(ctx context.Context, rec *domain.TransactionRecord) *Result {
	log := s.logger.With(zap.Int64("gateway_id", rec.GatewayID), zap.String("order_id", rec.MatchedOrderID))
	res := &Result{
		Status:        StatusAlreadyProcessed,
		Message:       "transaction already processed",
		GatewayID:     rec.GatewayID,
		TransactionID: rec.ID,
		OrderID:       rec.MatchedOrderID,
	}
	if rec.MatchedOrderID == "" {
		return res
	}

	earning, err := s.RetryEarning(ctx, rec.MatchedOrderID)
	if err != nil {
		log.Error("earning check on replay failed", zap.Error(err))
		res.EarningError = err.Error()
		return res
	}
	if !earning.Skipped {
		log.Warn("repaired missing earning on replay", zap.String("entry_id", earning.EntryID))
	}
	res.Earning = earning
	log.Info("duplicate delivery absorbed")
	return res
}

// RetryEarning re-runs the ledger for a paid order using the amount of the
// transfer that paid it. It credits at most once per order.
func (s *Service) RetryEarning(ctx context.Context, orderID string) (*wallet.EarningResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.BankTransactionID == "" {
		return nil, &domain.ValidationError{Field: "bank_transaction_id", Reason: "order has no confirmed transfer"}
	}
	rec, err := s.txns.GetByID(ctx, order.BankTransactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", order.BankTransactionID, err)
	}

	earning, err := s.wallet.ProcessSellerEarning(ctx, order, rec.Amount)
	if err != nil {
		s.recordEarningFailure(ctx, order.ID, err)
		return nil, err
	}
	if order.EarningFailedAt != nil {
		if err := s.orders.ClearEarningFailure(ctx, order.ID, s.now()); err != nil {
			s.logger.Error("failed to clear earning failure", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	if !earning.Skipped {
		s.emit(notify.Event{
			Type:      notify.EventEarningRecorded,
			OrderID:   order.ID,
			SellerID:  order.SellerID(),
			GatewayID: rec.GatewayID,
			Amount:    rec.Amount,
			AmountPI:  earning.AmountPI,
		})
	}
	return earning, nil
}

// recordEarningFailure persists why a paid order's seller was not credited,
// so the gap is visible without the logs. Failures are logged and swallowed.
func (s *Service) recordEarningFailure(ctx context.Context, orderID string, cause error) {
	if err := s.orders.RecordEarningFailure(ctx, orderID, cause.Error(), s.now()); err != nil {
		s.logger.Error("failed to record earning failure",
			zap.String("order_id", orderID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

// park writes the audit row explaining why a transfer was not credited.
// Failures are logged and swallowed.
func (s *Service) park(ctx context.Context, rec *domain.TransactionRecord, orderID string, reason domain.UnmatchedReason, expected *int64, detail string) {
	log := s.logger.With(zap.Int64("gateway_id", rec.GatewayID), zap.String("reason", string(reason)))

	added, err := s.unmatched.Insert(ctx, &domain.UnmatchedTransaction{
		ID:               ulid.Make().String(),
		TransactionID:    rec.ID,
		GatewayID:        rec.GatewayID,
		Amount:           rec.Amount,
		Content:          rec.Content,
		ExtractedOrderID: orderID,
		Reason:           reason,
		ExpectedAmount:   expected,
		Detail:           detail,
		CreatedAt:        s.now(),
	})
	if err != nil {
		log.Error("failed to record unmatched transaction", zap.Error(err))
		return
	}
	if !added {
		return
	}

	log.Warn("transfer parked for manual review", zap.String("detail", detail))
	eventType := notify.EventPaymentUnmatched
	if reason == domain.ReasonAmountMismatch {
		eventType = notify.EventAmountMismatch
	}
	s.emit(notify.Event{
		Type:      eventType,
		OrderID:   orderID,
		GatewayID: rec.GatewayID,
		Amount:    rec.Amount,
		Reason:    string(reason),
	})
}

func (s *Service) unmatchedResult(rec *domain.TransactionRecord, orderID string, reason domain.UnmatchedReason, msg string) *Result {
	return &Result{
		Status:         StatusUnmatched,
		Message:        msg,
		GatewayID:      rec.GatewayID,
		TransactionID:  rec.ID,
		OrderID:        orderID,
		Reason:         reason,
		ReceivedAmount: rec.Amount,
	}
}

func (s *Service) emit(e notify.Event) {
	e.Timestamp = s.now()
	s.runner.Go("publish "+e.Type, func(ctx context.Context) error {
		return s.emitter.Publish(ctx, e)
	})
}

// scheduleSideEffects queues the bookkeeping that follows a confirmed
// payment. Each task fails on its own.
func (s *Service) scheduleSideEffects(order *domain.Order, rec *domain.TransactionRecord, earning *wallet.EarningResult) {
	s.runner.Go("purchase_count", func(ctx context.Context) error {
		return s.catalog.IncrementPurchaseCount(ctx, order.Product.ID)
	})
	if order.VoucherID != "" {
		s.runner.Go("voucher_usage", func(ctx context.Context) error {
			return s.catalog.IncrementVoucherUsage(ctx, order.VoucherID)
		})
	}

	now := s.now()
	s.runner.Go("buyer_notification", func(ctx context.Context) error {
		return s.notifications.Insert(ctx, &domain.Notification{
			ID:        ulid.Make().String(),
			UserID:    order.BuyerID,
			OrderID:   order.ID,
			Kind:      "payment_confirmed",
			Title:     "Payment received",
			Body:      fmt.Sprintf("We received %d VND for %s. Delivery: %s.", rec.Amount, order.Product.Title, order.DeliveryStatus),
			CreatedAt: now,
		})
	})
	s.runner.Go("seller_notification", func(ctx context.Context) error {
		return s.notifications.Insert(ctx, &domain.Notification{
			ID:        ulid.Make().String(),
			UserID:    order.SellerID(),
			OrderID:   order.ID,
			Kind:      "new_sale",
			Title:     "New sale",
			Body:      fmt.Sprintf("%s was purchased. Earnings are held for the maturation period.", order.Product.Title),
			CreatedAt: now,
		})
	})

	s.emit(notify.Event{
		Type:      notify.EventPaymentConfirmed,
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID(),
		GatewayID: rec.GatewayID,
		Amount:    rec.Amount,
	})
	if earning != nil && !earning.Skipped {
		s.emit(notify.Event{
			Type:      notify.EventEarningRecorded,
			OrderID:   order.ID,
			SellerID:  order.SellerID(),
			GatewayID: rec.GatewayID,
			Amount:    rec.Amount,
			AmountPI:  earning.AmountPI,
		})
	}

	if s.mailer == nil {
		return
	}
	s.runner.Go("buyer_email", func(ctx context.Context) error {
		buyer, err := s.catalog.GetUser(ctx, order.BuyerID)
		if err != nil {
			return fmt.Errorf("load buyer: %w", err)
		}
		return s.mailer.SendBuyerConfirmation(buyer, order)
	})
	if earning != nil && !earning.Skipped {
		amountPI := earning.AmountPI
		s.runner.Go("seller_email", func(ctx context.Context) error {
			seller, err := s.catalog.GetUser(ctx, order.SellerID())
			if err != nil {
				return fmt.Errorf("load seller: %w", err)
			}
			return s.mailer.SendSellerSale(seller, order, amountPI)
		})
	}
}
