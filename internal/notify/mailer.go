package notify

import (
	"fmt"
	"html"

	"gopkg.in/gomail.v2"

	"github.com/pimarket/reconciler/internal/domain"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends payment confirmation emails over SMTP.
type Mailer struct {
	sender mailSender
	from   string
}

func NewMailer(host string, port int, username, password, from string) *Mailer {
	return &Mailer{sender: gomail.NewDialer(host, port, username, password), from: from}
}

// NewMailerWithSender is NewMailer with a custom transport.
func NewMailerWithSender(sender mailSender, from string) *Mailer {
	return &Mailer{sender: sender, from: from}
}

// SendBuyerConfirmation tells the buyer the payment arrived and where
// delivery stands.
func (m *Mailer) SendBuyerConfirmation(buyer *domain.User, order *domain.Order) error {
	msg := m.buyerConfirmation(buyer, order)
	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send buyer email: %w", err)
	}
	return nil
}

// SendSellerSale tells the seller one of their products sold.
func (m *Mailer) SendSellerSale(seller *domain.User, order *domain.Order, amountPI int64) error {
	msg := m.sellerSale(seller, order, amountPI)
	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send seller email: %w", err)
	}
	return nil
}

func (m *Mailer) buyerConfirmation(buyer *domain.User, order *domain.Order) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", buyer.Email)
	msg.SetHeader("Subject", fmt.Sprintf("Payment received for order #%s", shortOrderID(order.ID)))

	body := fmt.Sprintf(`
		<h2>Payment confirmed</h2>
		<p>Hi %s, we received your bank transfer for <strong>%s</strong>.</p>
		<p>Order: %s</p>
		<p>Delivery status: %s</p>
	`, html.EscapeString(buyer.DisplayName), html.EscapeString(order.Product.Title),
		order.ID, order.DeliveryStatus)
	if order.DeliveryStatus == domain.DeliveryDelivered && order.DeliveryNotes != "" {
		body += fmt.Sprintf("<p>%s</p>", html.EscapeString(order.DeliveryNotes))
	}
	msg.SetBody("text/html", body)
	return msg
}

func (m *Mailer) sellerSale(seller *domain.User, order *domain.Order, amountPI int64) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", seller.Email)
	msg.SetHeader("Subject", fmt.Sprintf("New sale: %s", order.Product.Title))

	body := fmt.Sprintf(`
		<h2>You made a sale</h2>
		<p>Hi %s, order %s for <strong>%s</strong> has been paid.</p>
		<p>%d PI was added to your pending balance and becomes withdrawable after the hold period.</p>
	`, html.EscapeString(seller.DisplayName), order.ID, html.EscapeString(order.Product.Title), amountPI)
	msg.SetBody("text/html", body)
	return msg
}

func shortOrderID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
