package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pimarket/reconciler/internal/domain"
)

// gatewayDateLayout is the transactionDate format sent by the gateway, in
// Vietnam local time.
const gatewayDateLayout = "2006-01-02 15:04:05"

var vietnamTime = time.FixedZone("ICT", 7*60*60)

// webhookPayload is the JSON body posted by the bank-transfer gateway.
type webhookPayload struct {
	ID              int64       `json:"id"`
	Gateway         string      `json:"gateway"`
	TransactionDate string      `json:"transactionDate"`
	AccountNumber   string      `json:"accountNumber"`
	SubAccount      *string     `json:"subAccount"`
	Code            *string     `json:"code"`
	Content         string      `json:"content"`
	TransferType    string      `json:"transferType"`
	Description     string      `json:"description"`
	TransferAmount  json.Number `json:"transferAmount"`
	Accumulated     json.Number `json:"accumulated"`
	ReferenceCode   string      `json:"referenceCode"`
}

// ParseNotification decodes and validates a webhook body. Every failure wraps
// domain.ErrMalformedNotification.
func ParseNotification(data []byte) (domain.TransferNotification, error) {
	var p webhookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.TransferNotification{}, malformed("decode body: %v", err)
	}
	return p.toNotification()
}

func (p webhookPayload) toNotification() (domain.TransferNotification, error) {
	if p.ID <= 0 {
		return domain.TransferNotification{}, malformed("missing transaction id")
	}

	dir := domain.TransferDirection(strings.ToLower(strings.TrimSpace(p.TransferType)))
	if dir != domain.DirectionIn && dir != domain.DirectionOut {
		return domain.TransferNotification{}, malformed("transferType %q", p.TransferType)
	}

	amount, err := parseAmount(p.TransferAmount)
	if err != nil {
		return domain.TransferNotification{}, err
	}

	occurredAt, err := parseTransactionDate(p.TransactionDate)
	if err != nil {
		return domain.TransferNotification{}, err
	}

	content := strings.TrimSpace(p.Content)
	if content == "" {
		content = strings.TrimSpace(p.Description)
	}

	return domain.TransferNotification{
		GatewayID:     p.ID,
		Gateway:       p.Gateway,
		Amount:        amount,
		Content:       content,
		ReferenceCode: p.ReferenceCode,
		AccountNumber: p.AccountNumber,
		Direction:     dir,
		OccurredAt:    occurredAt,
	}, nil
}

// parseAmount accepts whole VND amounts only.
func parseAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, malformed("missing transferAmount")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, malformed("transferAmount %q: %v", n, err)
	}
	if !d.IsInteger() {
		return 0, malformed("transferAmount %s is not a whole VND amount", d)
	}
	if !d.BigInt().IsInt64() {
		return 0, malformed("transferAmount %s is out of range", d)
	}
	amount := d.IntPart()
	if amount <= 0 {
		return 0, malformed("transferAmount %s must be positive", d)
	}
	return amount, nil
}

func parseTransactionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, malformed("missing transactionDate")
	}
	if t, err := time.ParseInLocation(gatewayDateLayout, s, vietnamTime); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, malformed("transactionDate %q", s)
	}
	return t.UTC(), nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedNotification, fmt.Sprintf(format, args...))
}
