package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"pehlione.com/settlement/internal/modules/inventory"
)

type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

var stockAlertHTML = template.Must(template.New("stock_alert").Parse(`<html>
  <body style="font-family: sans-serif;">
    <h2>Stock adjustments skipped</h2>
    <p>Order <strong>{{.OrderID}}</strong> was committed for payment <strong>{{.PaymentID}}</strong>,
    but {{len .Skipped}} line item(s) were not adjusted and need reconciliation.</p>
    <table cellpadding="4" border="1" style="border-collapse: collapse;">
      <tr><th>Order item</th><th>Counter</th><th>Quantity</th><th>Reason</th></tr>
      {{range .Skipped}}<tr><td>{{.OrderItemID}}</td><td>{{.Ref}}</td><td>{{.Quantity}}</td><td>{{.Reason}}</td></tr>
      {{end}}
    </table>
  </body>
</html>
`))

// StockAlerter mails the skipped items of a stock report to the operators.
type StockAlerter struct {
	sender Sender
	to     []string
}

func NewStockAlerter(s Sender, to []string) *StockAlerter {
	return &StockAlerter{sender: s, to: to}
}

func (a *StockAlerter) StockSkipped(ctx context.Context, rep inventory.Report) error {
	if len(rep.Skipped) == 0 || len(a.to) == 0 {
		return nil
	}
	msg, err := StockAlertMessage(rep)
	if err != nil {
		return err
	}
	msg.To = a.to
	return a.sender.Send(ctx, msg)
}

// StockAlertMessage renders the alert without recipients.
func StockAlertMessage(rep inventory.Report) (Message, error) {
	var text strings.Builder
	fmt.Fprintf(&text, "Order %s was committed for payment %s, but %d line item(s) were not adjusted:\n\n",
		rep.OrderID, rep.PaymentID, len(rep.Skipped))
	for _, s := range rep.Skipped {
		fmt.Fprintf(&text, "- item %s (%s) qty %d: %s\n", s.OrderItemID, s.Ref, s.Quantity, s.Reason)
	}
	text.WriteString("\nRun the reconcile tool to review committed orders.\n")

	var html bytes.Buffer
	if err := stockAlertHTML.Execute(&html, rep); err != nil {
		return Message{}, fmt.Errorf("render stock alert: %w", err)
	}

	return Message{
		Subject: fmt.Sprintf("[settlement] %d stock adjustment(s) skipped for order %s", len(rep.Skipped), rep.OrderID),
		Text:    text.String(),
		HTML:    html.String(),
		Headers: map[string]string{
			"X-Order-ID":   rep.OrderID,
			"X-Payment-ID": rep.PaymentID,
		},
	}, nil
}
