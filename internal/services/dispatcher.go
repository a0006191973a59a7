package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"whatsapp-broker/internal/adapters/meta"
	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/archive"
	"whatsapp-broker/internal/metrics"
	"whatsapp-broker/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	// EventTypeWhatsApp tags every webhook log written by the dispatcher.
	EventTypeWhatsApp = "whatsapp_webhook"

	changeFieldMessages = "messages"
	retryBatchLimit     = 100
)

// EventHandler applies individual events. *Reconciler implements it.
type EventHandler interface {
	HandleIncomingMessage(ctx context.Context, in IncomingMessage) error
	HandleStatusUpdate(ctx context.Context, st StatusUpdate) error
}

// Dispatcher unwraps webhook batches into events and keeps the audit log.
type Dispatcher struct {
	logs    WebhookLogStore
	handler EventHandler
	archive archive.Archive
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewDispatcher(logs WebhookLogStore, handler EventHandler, arch archive.Archive, m *metrics.Metrics) (*Dispatcher, error) {
	if logs == nil {
		return nil, fmt.Errorf("webhook log store cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("event handler cannot be nil")
	}
	if arch == nil {
		arch = archive.Nop{}
	}
	return &Dispatcher{
		logs:    logs,
		handler: handler,
		archive: arch,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Dispatch records the raw batch, processes every event in payload order
// and marks the log processed or failed. The processing error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (*models.WebhookLog, error) {
	entry := &models.WebhookLog{EventType: EventTypeWhatsApp, Payload: raw, Status: models.WebhookPending}
	if err := d.logs.Create(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record webhook batch")
		return nil, fmt.Errorf("failed to record webhook batch: %w", err)
	}

	if key, err := d.archive.Store(ctx, entry.ID, entry.CreatedAt, raw); err != nil {
		log.Warn().Err(err).Uint("webhookLogID", entry.ID).Msg("Failed to archive webhook payload")
	} else if key != "" {
		log.Debug().Uint("webhookLogID", entry.ID).Str("key", key).Msg("Webhook payload archived")
	}

	err := d.run(ctx, entry.ID, raw)
	if err != nil {
		entry.Status = models.WebhookFailed
		entry.Error = err.Error()
		if merr := d.logs.MarkFailed(ctx, entry.ID, err.Error(), false); merr != nil {
			log.Error().Err(merr).Uint("webhookLogID", entry.ID).Msg("Failed to mark webhook batch as failed")
		}
		return entry, err
	}

	at := d.now()
	entry.Status = models.WebhookProcessed
	entry.ProcessedAt = &at
	if err := d.logs.MarkProcessed(ctx, entry.ID, at); err != nil {
		log.Error().Err(err).Uint("webhookLogID", entry.ID).Msg("Failed to mark webhook batch as processed")
		return entry, fmt.Errorf("failed to mark webhook batch %d processed: %w", entry.ID, err)
	}
	return entry, nil
}

// run processes one batch and records its duration.
func (d *Dispatcher) run(ctx context.Context, logID uint, raw []byte) (err error) {
	done := d.metrics.BatchStarted()
	start := time.Now()
	defer func() {
		done()
		d.metrics.RecordBatch(time.Since(start), err)
		if err != nil {
			log.Error().Err(err).Uint("webhookLogID", logID).Msg("Webhook batch processing failed")
		} else {
			log.Debug().Uint("webhookLogID", logID).Dur("took", time.Since(start)).Msg("Webhook batch processed")
		}
	}()

	var payload meta.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apperr.Validation("malformed webhook payload: %v", err)
	}
	return d.process(ctx, &payload)
}

func (d *Dispatcher) process(ctx context.Context, payload *meta.WebhookPayload) error {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != changeFieldMessages {
				log.Debug().Str("field", change.Field).Str("entryID", entry.ID).Msg("Ignoring webhook change")
				continue
			}
			value := change.Value
			if len(value.Errors) > 0 {
				log.Warn().Str("entryID", entry.ID).Str("errors", meta.DescribeErrors(value.Errors)).Msg("Webhook change reported errors")
			}

			for _, m := range value.Messages {
				in, ok, err := incomingFromWebhook(m, value)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := d.handler.HandleIncomingMessage(ctx, in); err != nil {
					return fmt.Errorf("message %s: %w", m.ID, err)
				}
			}

			for _, s := range value.Statuses {
				st, ok, err := statusFromWebhook(s)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := d.handler.HandleStatusUpdate(ctx, st); err != nil {
					return fmt.Errorf("status %s for %s: %w", s.Status, s.ID, err)
				}
			}
		}
	}
	return nil
}

// incomingFromWebhook converts a webhook message. ok is false for message
// types the broker does not store.
func incomingFromWebhook(m meta.WebhookMessage, value meta.WebhookValue) (IncomingMessage, bool, error) {
	if !models.IsValidMessageType(m.Type) {
		log.Warn().Str("messageID", m.ID).Str("type", string(m.Type)).Msg("Unsupported message type, skipping")
		return IncomingMessage{}, false, nil
	}
	ts, err := parseUnix(m.Timestamp)
	if err != nil {
		return IncomingMessage{}, false, fmt.Errorf("message %s: %w", m.ID, err)
	}
	in := IncomingMessage{
		ExternalID: m.ID,
		From:       m.From,
		To:         value.Metadata.PhoneNumberID,
		Type:       m.Type,
		Content:    m.MessageContent,
		Timestamp:  ts,
	}
	if m.Context != nil {
		in.ReplyToID = m.Context.ID
	}
	for _, c := range value.Contacts {
		if c.WaID == m.From {
			in.SenderName = c.Profile.Name
			break
		}
	}
	return in, true, nil
}

// statusFromWebhook converts a webhook status. ok is false for statuses the
// broker does not track.
func statusFromWebhook(s meta.WebhookStatus) (StatusUpdate, bool, error) {
	status := models.MessageStatus(s.Status)
	if !models.IsValidMessageStatus(status) || status == models.StatusPending {
		log.Warn().Str("messageID", s.ID).Str("status", s.Status).Msg("Unsupported status, skipping")
		return StatusUpdate{}, false, nil
	}
	ts, err := parseUnix(s.Timestamp)
	if err != nil {
		return StatusUpdate{}, false, fmt.Errorf("status for %s: %w", s.ID, err)
	}
	st := StatusUpdate{ExternalID: s.ID, Status: status, Timestamp: ts}
	if c := s.Conversation; c != nil {
		st.ConversationID = c.ID
		st.Origin = c.Origin.Type
		if c.ExpirationTimestamp != "" {
			exp, err := parseUnix(c.ExpirationTimestamp)
			if err != nil {
				return StatusUpdate{}, false, fmt.Errorf("conversation expiry for %s: %w", s.ID, err)
			}
			st.ConversationExpiry = &exp
		}
	}
	if len(s.Errors) > 0 {
		st.FailedReason = meta.DescribeErrors(s.Errors)
	}
	return st, true, nil
}

// parseUnix parses a unix-seconds string into UTC.
func parseUnix(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid unix timestamp %q", s)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// RetryReport summarizes one retry sweep.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryFailed re-runs failed batches whose retry count is below maxRetries,
// oldest first. A batch that fails again has its retry count incremented.
func (d *Dispatcher) RetryFailed(ctx context.Context, maxRetries int) (RetryReport, error) {
	var report RetryReport
	logs, err := d.logs.ListRetryable(ctx, maxRetries, retryBatchLimit)
	if err != nil {
		return report, fmt.Errorf("failed to list retryable webhook batches: %w", err)
	}

	for _, l := range logs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Attempted++
		if err := d.run(ctx, l.ID, l.Payload); err != nil {
			report.Failed++
			if merr := d.logs.MarkFailed(ctx, l.ID, err.Error(), true); merr != nil {
				log.Error().Err(merr).Uint("webhookLogID", l.ID).Msg("Failed to record webhook retry failure")
			}
			continue
		}
		if err := d.logs.MarkProcessed(ctx, l.ID, d.now()); err != nil {
			log.Error().Err(err).Uint("webhookLogID", l.ID).Msg("Failed to mark retried webhook batch as processed")
			report.Failed++
			continue
		}
		report.Succeeded++
	}

	d.metrics.RecordSweep(report.Succeeded, report.Failed)
	if report.Attempted > 0 {
		log.Info().
			Int("attempted", report.Attempted).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Msg("Webhook retry sweep finished")
	}
	return report, nil
}
