package usecase

import (
	"context"
	"fmt"

	"secure-message-service/internal/domain"
)

// pendingStates は役割ごとに対応待ちとなる状態。
var pendingStates = map[domain.Role][]domain.MessageState{
	domain.RoleRouter:    {domain.StateSent},
	domain.RoleAuthority: {domain.StateRouterAccepted},
}

// ListPending は役割が次に処理すべきメッセージを古い順に返す。
// ROUTER は SENT、AUTHORITY は ROUTER_ACCEPTED のメッセージを参照する。
func (e *LifecycleEngine) ListPending(ctx context.Context, actor domain.Actor) ([]*domain.Message, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	states, ok := pendingStates[actor.Role]
	if !ok {
		return nil, fmt.Errorf("%w: role %s has no pending queue", domain.ErrForbidden, actor.Role)
	}

	var pending []*domain.Message
	for _, state := range states {
		msgs, err := e.messages.FindByState(ctx, state)
		if err != nil {
			return nil, storageFailure(fmt.Errorf("finding pending messages: %w", err))
		}
		pending = append(pending, msgs...)
	}
	return pending, nil
}

// Inbox はアクターが受信したメッセージを新しい順に返す。
func (e *LifecycleEngine) Inbox(ctx context.Context, actor domain.Actor, filter domain.MessageFilter) ([]*domain.Message, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	msgs, err := e.messages.FindByReceiver(ctx, actor.ID, filter)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("finding inbox: %w", err))
	}
	return msgs, nil
}

// Outbox はアクターが送信したメッセージを新しい順に返す。
func (e *LifecycleEngine) Outbox(ctx context.Context, actor domain.Actor, filter domain.MessageFilter) ([]*domain.Message, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	msgs, err := e.messages.FindBySender(ctx, actor.ID, filter)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("finding outbox: %w", err))
	}
	return msgs, nil
}

func validateFilter(filter domain.MessageFilter) error {
	if filter.State != "" {
		if _, ok := domain.ParseMessageState(string(filter.State)); !ok {
			return fmt.Errorf("%w: unknown state %q", domain.ErrInvalidInput, filter.State)
		}
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must not be negative", domain.ErrInvalidInput)
	}
	if filter.Since != nil && filter.Until != nil && !filter.Since.Before(*filter.Until) {
		return fmt.Errorf("%w: since must be before until", domain.ErrInvalidInput)
	}
	return nil
}

// Stats はアクターの送受信件数と対応待ち件数を返す。
func (e *LifecycleEngine) Stats(ctx context.Context, actor domain.Actor) (*domain.ActorStats, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	sent, err := e.messages.CountBySender(ctx, actor.ID)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("counting sent messages: %w", err))
	}
	received, err := e.messages.CountByReceiver(ctx, actor.ID)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("counting received messages: %w", err))
	}

	var pending int64
	if actor.Role == domain.RoleRouter || actor.Role == domain.RoleAuthority {
		pending, err = e.messages.CountByStates(ctx, []domain.MessageState{domain.StateSent, domain.StateRouterAccepted})
		if err != nil {
			return nil, storageFailure(fmt.Errorf("counting pending messages: %w", err))
		}
	}

	return &domain.ActorStats{
		ActorID:        actor.ID,
		Role:           actor.Role,
		SentCount:      sent,
		ReceivedCount:  received,
		PendingActions: pending,
	}, nil
}

// AuditTrail はメッセージの監査ログを新しい順に返す。送信者、受信者、AUTHORITY のみ参照できる。
func (e *LifecycleEngine) AuditTrail(ctx context.Context, actor domain.Actor, messageID string) ([]*domain.AuditLogEntry, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if _, err := e.findOverseenMessage(ctx, actor, messageID, "audit"); err != nil {
		return nil, err
	}
	entries, err := e.audits.FindByMessageID(ctx, messageID)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("finding audit entries: %w", err))
	}
	return entries, nil
}

// GetCertificate はメッセージの証明書を返す。送信者、受信者、AUTHORITY のみ参照できる。
func (e *LifecycleEngine) GetCertificate(ctx context.Context, actor domain.Actor, messageID string) (*domain.Certificate, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if _, err := e.findOverseenMessage(ctx, actor, messageID, "certificate"); err != nil {
		return nil, err
	}
	cert, err := e.issuer.Find(ctx, messageID)
	if err != nil {
		return nil, storageFailure(err)
	}
	if cert == nil {
		return nil, domain.ErrCertificateNotFound
	}
	return cert, nil
}

// findOverseenMessage は当事者に加えて AUTHORITY にも参照を許可する。
func (e *LifecycleEngine) findOverseenMessage(ctx context.Context, actor domain.Actor, messageID, operation string) (*domain.Message, error) {
	if actor.Role != domain.RoleAuthority {
		return e.findParticipantMessage(ctx, actor, messageID, operation)
	}
	msg, err := e.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, storageFailure(fmt.Errorf("finding message: %w", err))
	}
	if msg == nil {
		return nil, domain.ErrNotFound
	}
	return msg, nil
}
