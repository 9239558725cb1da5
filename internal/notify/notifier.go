// Package notify bridges workflow events onto the background queue. The
// worker renders each event into a recipient-facing summary; the HTTP
// process only enqueues.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/procuremesh/procuremesh/internal/workflow"
	"github.com/procuremesh/procuremesh/jobs"
)

// eventNamespace seeds deterministic event IDs so a replayed transition
// enqueues the same task ID and deduplicates in the queue.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("procuremesh/notify"))

// AsynqNotifier enqueues one notification task per workflow event.
type AsynqNotifier struct {
	client  *jobs.Client
	printer *message.Printer
}

// NewAsynqNotifier builds the queue-backed notifier.
func NewAsynqNotifier(client *jobs.Client) *AsynqNotifier {
	return &AsynqNotifier{client: client, printer: message.NewPrinter(language.English)}
}

func (n *AsynqNotifier) enqueue(ctx context.Context, payload jobs.NotifyEventPayload) error {
	_, err := n.client.EnqueueNotifyEvent(ctx, payload)
	if err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", payload.Kind, err)
	}
	return nil
}

func eventID(kind string, entityID int64, at time.Time) string {
	seed := fmt.Sprintf("%s:%d:%d", kind, entityID, at.Unix())
	return uuid.NewSHA1(eventNamespace, []byte(seed)).String()
}

func (n *AsynqNotifier) NotifyIndentCreated(ctx context.Context, evt workflow.IndentCreatedEvent) error {
	return n.enqueue(ctx, jobs.NotifyEventPayload{
		EventID:  eventID("indent_created", evt.IndentID, evt.At),
		Kind:     "indent_created",
		IndentID: evt.IndentID,
		Summary:  fmt.Sprintf("Indent %s created", evt.RefNo),
		At:       evt.At,
	})
}

func (n *AsynqNotifier) NotifySuborderShipped(ctx context.Context, evt workflow.SuborderShippedEvent) error {
	summary := fmt.Sprintf("Suborder %d shipped", evt.SuborderID)
	if evt.Carrier != "" {
		summary = fmt.Sprintf("Suborder %d shipped via %s", evt.SuborderID, evt.Carrier)
	}
	return n.enqueue(ctx, jobs.NotifyEventPayload{
		EventID:  eventID("suborder_shipped", evt.SuborderID, evt.At),
		Kind:     "suborder_shipped",
		IndentID: evt.IndentID,
		OrderID:  evt.OrderID,
		VendorID: evt.VendorID,
		Summary:  summary,
		At:       evt.At,
	})
}

func (n *AsynqNotifier) NotifySuborderDelivered(ctx context.Context, evt workflow.SuborderDeliveredEvent) error {
	return n.enqueue(ctx, jobs.NotifyEventPayload{
		EventID:  eventID("suborder_delivered", evt.SuborderID, evt.At),
		Kind:     "suborder_delivered",
		IndentID: evt.IndentID,
		OrderID:  evt.OrderID,
		VendorID: evt.VendorID,
		Summary:  fmt.Sprintf("Suborder %d delivered", evt.SuborderID),
		At:       evt.At,
	})
}

func (n *AsynqNotifier) NotifyGRNSubmitted(ctx context.Context, evt workflow.GRNSubmittedEvent) error {
	return n.enqueue(ctx, jobs.NotifyEventPayload{
		EventID:  eventID("grn_submitted", evt.GRNID, evt.At),
		Kind:     "grn_submitted",
		IndentID: evt.IndentID,
		VendorID: evt.VendorID,
		Summary:  fmt.Sprintf("GRN %s submitted for review", evt.Number),
		At:       evt.At,
	})
}

func (n *AsynqNotifier) NotifyInvoiceSubmitted(ctx context.Context, evt workflow.InvoiceSubmittedEvent) error {
	return n.enqueue(ctx, jobs.NotifyEventPayload{
		EventID:  eventID("invoice_submitted", evt.InvoiceID, evt.At),
		Kind:     "invoice_submitted",
		IndentID: evt.IndentID,
		VendorID: evt.VendorID,
		Summary:  n.printer.Sprintf("Invoice %s for %.2f submitted", evt.Number, evt.Amount),
		At:       evt.At,
	})
}

func (n *AsynqNotifier) NotifyPaymentCompleted(ctx context.Context, evt workflow.PaymentCompletedEvent) error {
	return n.enqueue(ctx, jobs.NotifyEventPayload{
		EventID:  eventID("payment_completed", evt.PaymentID, evt.At),
		Kind:     "payment_completed",
		IndentID: evt.IndentID,
		VendorID: evt.VendorID,
		Summary:  n.printer.Sprintf("Payment of %.2f completed for invoice %d", evt.Amount, evt.InvoiceID),
		At:       evt.At,
	})
}

func (n *AsynqNotifier) NotifyIndentClosed(ctx context.Context, evt workflow.IndentClosedEvent) error {
	return n.enqueue(ctx, jobs.NotifyEventPayload{
		EventID:  eventID("indent_closed", evt.IndentID, evt.At),
		Kind:     "indent_closed",
		IndentID: evt.IndentID,
		Summary:  fmt.Sprintf("Indent %s fully paid and closed", evt.RefNo),
		At:       evt.At,
	})
}

// LogNotifier writes events straight to the log. It stands in when Redis
// is unavailable, mostly in development.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) log(ctx context.Context, kind string, args ...any) error {
	n.Logger.InfoContext(ctx, "workflow event", append([]any{slog.String("kind", kind)}, args...)...)
	return nil
}

func (n LogNotifier) NotifyIndentCreated(ctx context.Context, evt workflow.IndentCreatedEvent) error {
	return n.log(ctx, "indent_created", slog.Int64("indent_id", evt.IndentID))
}

func (n LogNotifier) NotifySuborderShipped(ctx context.Context, evt workflow.SuborderShippedEvent) error {
	return n.log(ctx, "suborder_shipped", slog.Int64("suborder_id", evt.SuborderID))
}

func (n LogNotifier) NotifySuborderDelivered(ctx context.Context, evt workflow.SuborderDeliveredEvent) error {
	return n.log(ctx, "suborder_delivered", slog.Int64("suborder_id", evt.SuborderID))
}

func (n LogNotifier) NotifyGRNSubmitted(ctx context.Context, evt workflow.GRNSubmittedEvent) error {
	return n.log(ctx, "grn_submitted", slog.Int64("grn_id", evt.GRNID))
}

func (n LogNotifier) NotifyInvoiceSubmitted(ctx context.Context, evt workflow.InvoiceSubmittedEvent) error {
	return n.log(ctx, "invoice_submitted", slog.Int64("invoice_id", evt.InvoiceID))
}

func (n LogNotifier) NotifyPaymentCompleted(ctx context.Context, evt workflow.PaymentCompletedEvent) error {
	return n.log(ctx, "payment_completed", slog.Int64("payment_id", evt.PaymentID))
}

func (n LogNotifier) NotifyIndentClosed(ctx context.Context, evt workflow.IndentClosedEvent) error {
	return n.log(ctx, "indent_closed", slog.Int64("indent_id", evt.IndentID))
}
