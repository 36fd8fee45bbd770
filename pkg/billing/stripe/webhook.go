package stripe

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantryplan/entitle/pkg/billing"
	"github.com/pantryplan/entitle/pkg/entitle"
)

// WebhookHandler returns the HTTP handler for the Stripe webhook
// endpoint. Signature verification happens before any decoding; an
// unverified body is never parsed.
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}

func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if p.webhookSecret == "" || p.reconciler == nil {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError("payload_too_large")
			return
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError("invalid_payload")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	event, err := stripe.ConstructEvent(body, sig, p.webhookSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError("signature_verification_failed")
		return
	}

	eventType := string(event.Type)
	startTime := time.Now()

	typed, err := p.DecodeEvent(&event)
	if err != nil {
		// The payload is signed but unusable; retrying the delivery
		// produces the same bytes, so reject it for good.
		p.log.Warn("malformed webhook event",
			entitle.Field{Key: "event_id", Value: string(event.ID)},
			entitle.Field{Key: "event_type", Value: eventType},
			entitle.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "malformed event", http.StatusBadRequest)
		p.metrics.RecordWebhookError("malformed_event")
		return
	}
	if typed == nil {
		// Not a type we act on. Ack so the processor stops sending it.
		w.WriteHeader(http.StatusOK)
		p.metrics.RecordEvent(eventType, "ignored")
		return
	}

	err = p.reconciler.Apply(r.Context(), typed)
	p.metrics.RecordEventDuration(eventType, time.Since(startTime))

	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		if _, werr := w.Write([]byte("ok")); werr != nil {
			return
		}
	case billing.IsRetryable(err):
		// Transient store failure: a 5xx makes Stripe redeliver, and
		// reprocessing is idempotent.
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		p.metrics.RecordWebhookError("processing_error")
	case errors.Is(err, billing.ErrUnknownSubject):
		// No local user matches this event. Redelivery cannot fix the
		// mapping, so ack after logging.
		p.log.Warn("webhook event for unknown subject",
			entitle.Field{Key: "event_id", Value: typed.EventID()},
			entitle.Field{Key: "event_type", Value: eventType},
		)
		w.WriteHeader(http.StatusOK)
		p.metrics.RecordWebhookError("unknown_subject")
	default:
		http.Error(w, "invalid event", http.StatusBadRequest)
		p.metrics.RecordWebhookError("rejected_event")
	}
}
