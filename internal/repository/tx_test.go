package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"secure-message-service/internal/domain"
)

func TestTxManager_RunInTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	txm := NewTxManager(db)
	messages := NewMessageRepository(db)
	keys := NewDataKeyRepository(db)

	// コミット: 両方のリポジトリの書き込みが残る
	msg := newTestMessage("alice", "bob", domain.StateDraft, time.Now().UTC())
	err := txm.RunInTx(ctx, func(ctx context.Context) error {
		if err := messages.Create(ctx, msg); err != nil {
			return err
		}
		return keys.Create(ctx, &domain.DataKey{MessageID: msg.ID, WrappedKey: []byte("k")})
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
	exists, err := keys.ExistsByMessageID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("ExistsByMessageID failed: %v", err)
	}
	if !exists {
		t.Error("expected committed key to exist")
	}

	// ロールバック: エラー時は何も残らない
	errBoom := errors.New("boom")
	rolledBack := newTestMessage("carol", "dave", domain.StateDraft, time.Now().UTC())
	err = txm.RunInTx(ctx, func(ctx context.Context) error {
		if err := messages.Create(ctx, rolledBack); err != nil {
			return err
		}
		if err := keys.Create(ctx, &domain.DataKey{MessageID: rolledBack.ID, WrappedKey: []byte("k")}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	found, err := messages.FindByID(ctx, rolledBack.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found != nil {
		t.Errorf("expected rolled back message to be absent, got %+v", found)
	}
	exists, err = keys.ExistsByMessageID(ctx, rolledBack.ID)
	if err != nil {
		t.Fatalf("ExistsByMessageID failed: %v", err)
	}
	if exists {
		t.Error("expected rolled back key to be absent")
	}
}

func TestTxManager_NestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	txm := NewTxManager(db)
	messages := NewMessageRepository(db)

	msg := newTestMessage("alice", "bob", domain.StateDraft, time.Now().UTC())
	errBoom := errors.New("boom")
	err := txm.RunInTx(ctx, func(ctx context.Context) error {
		if err := txm.RunInTx(ctx, func(ctx context.Context) error {
			return messages.Create(ctx, msg)
		}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	// 内側の書き込みも外側と一緒にロールバックされる
	found, err := messages.FindByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found != nil {
		t.Errorf("expected nil, got %+v", found)
	}
}
