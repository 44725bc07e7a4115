package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"secure-message-service/internal/domain"
)

// auditEvent は監査ログの配信フォーマット。
type auditEvent struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	ActorID   *string   `json:"actor_id"`
	Kind      string    `json:"kind"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// KafkaAuditPublisher はコミット済みの監査ログをKafkaトピックへ配信する。
type KafkaAuditPublisher struct {
	client *kgo.Client
}

// NewKafkaAuditPublisher は brokers に接続するプロデューサーを生成する。
func NewKafkaAuditPublisher(brokers []string, topic string) (*KafkaAuditPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return &KafkaAuditPublisher{client: client}, nil
}

// Publish は1件の監査ログを同期的に送信する。メッセージIDをキーにして順序を保つ。
func (p *KafkaAuditPublisher) Publish(ctx context.Context, entry *domain.AuditLogEntry) error {
	record, err := newAuditRecord(entry)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("producing audit record: %w", err)
	}
	return nil
}

// Close はプロデューサーを停止する。
func (p *KafkaAuditPublisher) Close() {
	p.client.Close()
}

func newAuditRecord(entry *domain.AuditLogEntry) (*kgo.Record, error) {
	value, err := json.Marshal(auditEvent{
		ID:        entry.ID,
		MessageID: entry.MessageID,
		ActorID:   entry.ActorID,
		Kind:      string(entry.Kind),
		Notes:     entry.Notes,
		Timestamp: entry.Timestamp.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding audit record: %w", err)
	}
	return &kgo.Record{
		Key:   []byte(entry.MessageID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(entry.Kind)},
		},
	}, nil
}
