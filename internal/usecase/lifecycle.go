package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"secure-message-service/internal/domain"
)

const maxSubjectLength = 255

var tracer = otel.Tracer("secure-message-service/internal/usecase")

// MessageRepository はメッセージのデータアクセスのインターフェース。
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	FindByID(ctx context.Context, id string) (*domain.Message, error)
	UpdateState(ctx context.Context, msg *domain.Message, expectedVersion int) error
	FindByState(ctx context.Context, state domain.MessageState) ([]*domain.Message, error)
	FindBySender(ctx context.Context, senderID string, filter domain.MessageFilter) ([]*domain.Message, error)
	FindByReceiver(ctx context.Context, receiverID string, filter domain.MessageFilter) ([]*domain.Message, error)
	CountBySender(ctx context.Context, senderID string) (int64, error)
	CountByReceiver(ctx context.Context, receiverID string) (int64, error)
	CountByStates(ctx context.Context, states []domain.MessageState) (int64, error)
}

// AuditRepository は監査ログのデータアクセスのインターフェース。
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditLogEntry) error
	FindByMessageID(ctx context.Context, messageID string) ([]*domain.AuditLogEntry, error)
}

// TxRunner はトランザクション境界のインターフェース。
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Vault はメッセージ鍵の生成と本文の暗号化/復号のインターフェース。
type Vault interface {
	GenerateKey(ctx context.Context, messageID string) (string, error)
	Seal(ctx context.Context, handle string, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, handle string, sealed []byte) ([]byte, error)
}

// Issuer は証明書発行のインターフェース。
type Issuer interface {
	Issue(ctx context.Context, messageID, issuerID string, certificateData []byte) (*domain.Certificate, error)
	Find(ctx context.Context, messageID string) (*domain.Certificate, error)
}

// LifecycleEngine はメッセージの状態遷移と閲覧を制御する。
type LifecycleEngine struct {
	messages    MessageRepository
	audits      AuditRepository
	tx          TxRunner
	vault       Vault
	issuer      Issuer
	locker      Locker
	sink        AuditSink
	metrics     Metrics
	now         func() time.Time
	autoDeliver bool
}

// Option はLifecycleEngineの設定を変更する。
type Option func(*LifecycleEngine)

// WithLocker はメッセージ単位のロック実装を指定する。既定はLocalLocker。
func WithLocker(l Locker) Option {
	return func(e *LifecycleEngine) { e.locker = l }
}

// WithAuditSink はコミット後の監査ログ配信先を指定する。
func WithAuditSink(s AuditSink) Option {
	return func(e *LifecycleEngine) { e.sink = s }
}

// WithMetrics は計測の実装を指定する。
func WithMetrics(m Metrics) Option {
	return func(e *LifecycleEngine) { e.metrics = m }
}

// WithClock は時刻の取得元を指定する。
func WithClock(now func() time.Time) Option {
	return func(e *LifecycleEngine) { e.now = now }
}

// WithAutoDeliverOnRead は受信者の初回閲覧で自動的に配達済みにするかを指定する。
func WithAutoDeliverOnRead(enabled bool) Option {
	return func(e *LifecycleEngine) { e.autoDeliver = enabled }
}

// NewLifecycleEngine は新しいLifecycleEngineを生成する。
func NewLifecycleEngine(messages MessageRepository, audits AuditRepository, tx TxRunner, vault Vault, issuer Issuer, opts ...Option) *LifecycleEngine {
	e := &LifecycleEngine{
		messages: messages,
		audits:   audits,
		tx:       tx,
		vault:    vault,
		issuer:   issuer,
		locker:   NewLocalLocker(),
		sink:     noopAuditSink{},
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateDraft は送信者の下書きメッセージを作成し、CREATE を記録する。
func (e *LifecycleEngine) CreateDraft(ctx context.Context, actor domain.Actor, receiverID, subject string) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.CreateDraft")
	defer span.End()

	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleUser && actor.Role != domain.RolePublisher {
		return nil, fmt.Errorf("%w: role %s cannot compose messages", domain.ErrForbidden, actor.Role)
	}
	receiverID = strings.TrimSpace(receiverID)
	subject = strings.TrimSpace(subject)
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver is required", domain.ErrInvalidInput)
	}
	if receiverID == actor.ID {
		return nil, fmt.Errorf("%w: receiver must differ from sender", domain.ErrInvalidInput)
	}
	if subject == "" || utf8.RuneCountInString(subject) > maxSubjectLength {
		return nil, fmt.Errorf("%w: subject must be 1 to %d characters", domain.ErrInvalidInput, maxSubjectLength)
	}

	now := e.now().UTC()
	msg := &domain.Message{
		SenderID:   actor.ID,
		ReceiverID: receiverID,
		Subject:    subject,
		State:      domain.StateDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var entry *domain.AuditLogEntry
	err := e.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.messages.Create(ctx, msg); err != nil {
			return fmt.Errorf("creating message: %w", err)
		}
		entry = e.newEntry(msg.ID, actor.ID, domain.AuditCreate, "")
		if err := e.audits.Append(ctx, entry); err != nil {
			return fmt.Errorf("appending audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, storageFailure(err)
	}
	span.SetAttributes(attribute.String("message.id", msg.ID))
	e.publish(ctx, entry)
	return msg, nil
}

// RequestTransition は遷移表に従って操作を適用し、更新後のメッセージを返す。
// 認可または状態の前提条件を満たさない試行は DENY として記録される。
func (e *LifecycleEngine) RequestTransition(ctx context.Context, actor domain.Actor, messageID string, action domain.Action, payload domain.TransitionPayload) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.RequestTransition", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("action", string(action)),
	))
	defer span.End()

	if err := checkActor(actor); err != nil {
		return nil, err
	}
	rule, err := ruleFor(action)
	if err != nil {
		return nil, err
	}

	msg, entry, err := e.apply(ctx, actor, messageID, rule, func(ctx context.Context, msg, next *domain.Message) (string, error) {
		return e.sideEffect(ctx, actor, action, msg, next, payload)
	})
	if err != nil {
		recordError(span, err)
		e.metrics.ObserveTransition(string(action), resultOf(err))
		if isDenial(err) {
			e.deny(ctx, actor, messageID, string(action), err)
		}
		return nil, err
	}

	e.metrics.ObserveTransition(string(action), ResultSuccess)
	e.publish(ctx, entry)
	return msg, nil
}

// mutation は遷移の副作用を実行し、監査ログのメモを返す。next を書き換えてよい。
type mutation func(ctx context.Context, msg, next *domain.Message) (string, error)

// apply はロックとトランザクションの中で、読み込み、検査、副作用、状態更新、監査記録を行う。
func (e *LifecycleEngine) apply(ctx context.Context, actor domain.Actor, messageID string, rule transitionRule, mutate mutation) (*domain.Message, *domain.AuditLogEntry, error) {
	unlock, err := e.locker.Lock(ctx, messageID)
	if err != nil {
		return nil, nil, storageFailure(fmt.Errorf("acquiring message lock: %w", err))
	}
	defer unlock()

	var (
		updated *domain.Message
		entry   *domain.AuditLogEntry
	)
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		msg, err := e.messages.FindByID(ctx, messageID)
		if err != nil {
			return fmt.Errorf("finding message: %w", err)
		}
		if msg == nil {
			return domain.ErrNotFound
		}
		if err := rule.authorize(actor, msg); err != nil {
			return err
		}

		next := msg.Clone()
		notes, err := mutate(ctx, msg, next)
		if err != nil {
			return err
		}
		next.State = rule.to
		next.UpdatedAt = e.now().UTC()
		if err := e.messages.UpdateState(ctx, next, msg.Version); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				return fmt.Errorf("%w: message was modified concurrently", domain.ErrInvalidState)
			}
			return fmt.Errorf("updating message: %w", err)
		}

		entry = e.newEntry(msg.ID, actor.ID, rule.kind, notes)
		if err := e.audits.Append(ctx, entry); err != nil {
			return fmt.Errorf("appending audit entry: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, nil, storageFailure(err)
	}
	return updated, entry, nil
}

// sideEffect は操作ごとの副作用を実行する。
func (e *LifecycleEngine) sideEffect(ctx context.Context, actor domain.Actor, action domain.Action, msg, next *domain.Message, payload domain.TransitionPayload) (string, error) {
	switch action {
	case domain.ActionSend:
		if len(payload.Plaintext) == 0 {
			return "", fmt.Errorf("%w: message content is required", domain.ErrInvalidInput)
		}
		handle, err := e.vault.GenerateKey(ctx, msg.ID)
		if err != nil {
			return "", fmt.Errorf("%w: generating key: %w", domain.ErrStorageFailure, err)
		}
		sealed, err := e.vault.Seal(ctx, handle, payload.Plaintext)
		if err != nil {
			return "", fmt.Errorf("%w: sealing body: %w", domain.ErrStorageFailure, err)
		}
		next.KeyHandle = handle
		next.SealedBody = sealed
		return payload.Notes, nil
	case domain.ActionCertify:
		cert, err := e.issuer.Issue(ctx, msg.ID, actor.ID, payload.CertificateData)
		if err != nil {
			return "", fmt.Errorf("issuing certificate: %w", err)
		}
		ref := cert.ID
		next.CertificateRef = &ref
		return payload.Notes, nil
	case domain.ActionReject:
		// 証明書自体は MessageID で引き続き参照できる
		next.CertificateRef = nil
		return payload.Notes, nil
	default:
		return payload.Notes, nil
	}
}

// ReadMessage は送信者または受信者に対して本文を復号して返す。
// 鍵の不在と復号失敗は区別せず domain.ErrContentUnavailable を返す。
func (e *LifecycleEngine) ReadMessage(ctx context.Context, actor domain.Actor, messageID string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.ReadMessage", trace.WithAttributes(
		attribute.String("message.id", messageID),
	))
	defer span.End()

	if err := checkActor(actor); err != nil {
		return nil, err
	}
	msg, err := e.findParticipantMessage(ctx, actor, messageID, string(domain.ActionRead))
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if msg.KeyHandle == "" || len(msg.SealedBody) == 0 {
		err := fmt.Errorf("%w: message has no content yet", domain.ErrInvalidState)
		e.deny(ctx, actor, messageID, string(domain.ActionRead), err)
		return nil, err
	}

	plaintext, err := e.vault.Open(ctx, msg.KeyHandle, msg.SealedBody)
	if err != nil {
		recordError(span, err)
		if errors.Is(err, domain.ErrKeyNotFound) || errors.Is(err, domain.ErrDecryptFailed) {
			e.metrics.IncContentUnavailable()
			slog.WarnContext(ctx, "could not recover message content",
				"operation", "read_message",
				"message_id", messageID,
				"actor_id", actor.ID,
			)
			return nil, domain.ErrContentUnavailable
		}
		return nil, storageFailure(fmt.Errorf("opening body: %w", err))
	}

	if e.autoDeliver && actor.ID == msg.ReceiverID && msg.State == domain.StateCertificateCreated {
		e.deliverOnRead(ctx, actor, messageID)
	}
	return plaintext, nil
}

// deliverOnRead は受信者の初回閲覧を配達として記録する。失敗しても閲覧結果には影響しない。
func (e *LifecycleEngine) deliverOnRead(ctx context.Context, actor domain.Actor, messageID string) {
	_, entry, err := e.apply(ctx, actor, messageID, deliverOnReadRule, func(context.Context, *domain.Message, *domain.Message) (string, error) {
		return "delivered on first read", nil
	})
	if err != nil {
		// 並行する配達に先を越された場合は何もしない
		if !errors.Is(err, domain.ErrInvalidState) {
			slog.ErrorContext(ctx, "failed to deliver message on read",
				"operation", "deliver_on_read",
				"message_id", messageID,
				"error", err,
			)
		}
		return
	}
	e.metrics.ObserveTransition(string(domain.ActionDeliver), ResultSuccess)
	e.publish(ctx, entry)
}

// GetStatus は送信者または受信者に対してメッセージの状態を返す。
func (e *LifecycleEngine) GetStatus(ctx context.Context, actor domain.Actor, messageID string) (*domain.MessageStatus, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	msg, err := e.findParticipantMessage(ctx, actor, messageID, string(domain.ActionStatus))
	if err != nil {
		return nil, err
	}
	return &domain.MessageStatus{
		ID:        msg.ID,
		State:     msg.State,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}, nil
}

// findParticipantMessage はメッセージを読み込み、送信者または受信者であることを確認する。
func (e *LifecycleEngine) findParticipantMessage(ctx context.Context, actor domain.Actor, messageID, operation string) (*domain.Message, error) {
	msg, err := e.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("finding message: %w", err))
	}
	if msg == nil {
		return nil, domain.ErrNotFound
	}
	if !msg.IsParticipant(actor.ID) {
		err := fmt.Errorf("%w: actor is not a participant", domain.ErrForbidden)
		e.deny(ctx, actor, messageID, operation, err)
		return nil, err
	}
	return msg, nil
}

// deny は拒否された試行を DENY として記録する。
// 中断されたトランザクションの外で、キャンセルされないコンテキストを使って書き込む。
func (e *LifecycleEngine) deny(ctx context.Context, actor domain.Actor, messageID, operation string, cause error) {
	ctx = context.WithoutCancel(ctx)
	entry := e.newEntry(messageID, actor.ID, domain.AuditDeny, operation+": "+cause.Error())
	if err := e.audits.Append(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to record denied attempt",
			"operation", operation,
			"message_id", messageID,
			"actor_id", actor.ID,
			"error", err,
		)
		return
	}
	e.publish(ctx, entry)
}

// publish はコミット済みのエントリを配信する。配信の失敗は遷移の結果に影響しない。
func (e *LifecycleEngine) publish(ctx context.Context, entry *domain.AuditLogEntry) {
	if entry == nil {
		return
	}
	if err := e.sink.Publish(ctx, entry); err != nil {
		e.metrics.IncAuditPublishFailure()
		slog.WarnContext(ctx, "failed to publish audit entry",
			"operation", "publish_audit_entry",
			"message_id", entry.MessageID,
			"kind", entry.Kind,
			"error", err,
		)
	}
}

func (e *LifecycleEngine) newEntry(messageID, actorID string, kind domain.AuditKind, notes string) *domain.AuditLogEntry {
	var actorRef *string
	if actorID != "" {
		id := actorID
		actorRef = &id
	}
	return &domain.AuditLogEntry{
		MessageID: messageID,
		ActorID:   actorRef,
		Kind:      kind,
		Notes:     notes,
		Timestamp: e.now().UTC(),
	}
}

func checkActor(actor domain.Actor) error {
	if actor.ID == "" || actor.Role == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}

// isDenial は監査ログに DENY として残すべき拒否かどうかを返す。
func isDenial(err error) bool {
	return errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrAlreadyCertified)
}

// storageFailure は既知の業務エラー以外を domain.ErrStorageFailure として包む。
func storageFailure(err error) error {
	if err == nil {
		return nil
	}
	if isDenial(err) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrStorageFailure) ||
		errors.Is(err, domain.ErrInvalidAction) ||
		errors.Is(err, domain.ErrUnauthenticated) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
}

func resultOf(err error) string {
	switch {
	case isDenial(err):
		return ResultDenied
	case errors.Is(err, domain.ErrNotFound):
		return ResultNotFound
	default:
		return ResultError
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
