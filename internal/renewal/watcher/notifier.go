package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"assetdesk/internal/renewal/models"
	"assetdesk/pkg/domain"
)

// Notifier is told about obligations that newly entered the due-soon window.
type Notifier interface {
	Notify(ctx context.Context, today domain.Date, entries []Entry) error
}

// Producer is the slice of the Kafka client the notifier needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// DueSoonMessage is the value written to the due-soon topic.
type DueSoonMessage struct {
	ID          domain.RenewalID `json:"id"`
	Particulars string           `json:"compliance_particulars"`
	NextDueDate domain.Date      `json:"next_due_date"`
	Today       domain.Date      `json:"today"`
	Overdue     bool             `json:"is_overdue"`
}

// KafkaNotifier publishes one message per entry, keyed by renewal id so
// all messages of one obligation land on one partition.
type KafkaNotifier struct {
	producer Producer
	topic    string
}

func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, today domain.Date, entries []Entry) error {
	for _, e := range entries {
		value, err := json.Marshal(DueSoonMessage{
			ID:          e.ID,
			Particulars: e.Particulars,
			NextDueDate: e.NextDueDate,
			Today:       today,
			Overdue:     e.NextDueDate.Before(today),
		})
		if err != nil {
			return fmt.Errorf("encode due-soon message: %w", err)
		}
		key := []byte(strconv.FormatInt(int64(e.ID), 10))
		if err := n.producer.Produce(ctx, n.topic, key, value); err != nil {
			return fmt.Errorf("produce due-soon message for renewal %d: %w", e.ID, err)
		}
	}
	return nil
}

// LogNotifier writes entries to the log. It is used when no broker is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, today domain.Date, entries []Entry) error {
	for _, e := range entries {
		n.logger.InfoContext(ctx, "renewal due soon",
			"renewal_id", e.ID.String(),
			"compliance_particulars", e.Particulars,
			"next_due_date", e.NextDueDate.String(),
			"today", today.String(),
		)
	}
	return nil
}

func entriesFrom(records []*models.ComplianceRecord) []Entry {
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, EntryFrom(r))
	}
	return out
}
