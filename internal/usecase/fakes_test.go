package usecase

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"secure-message-service/internal/domain"
)

// memDB はテスト用のインメモリストア。RunInTx は失敗時にスナップショットへ戻す。
type memDB struct {
	mu       sync.Mutex
	messages map[string]*domain.Message
	certs    map[string]*domain.Certificate
	keys     map[string]*domain.DataKey
	audits   []*domain.AuditLogEntry

	appendErr error
	updateErr error
	findErr   error
}

func newMemDB() *memDB {
	return &memDB{
		messages: make(map[string]*domain.Message),
		certs:    make(map[string]*domain.Certificate),
		keys:     make(map[string]*domain.DataKey),
	}
}

type memTx struct{ db *memDB }

func (t memTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.db.mu.Lock()
	messages := make(map[string]*domain.Message, len(t.db.messages))
	for id, m := range t.db.messages {
		messages[id] = m.Clone()
	}
	certs := maps.Clone(t.db.certs)
	keys := maps.Clone(t.db.keys)
	audits := slices.Clone(t.db.audits)
	t.db.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.db.mu.Lock()
		t.db.messages, t.db.certs, t.db.keys, t.db.audits = messages, certs, keys, audits
		t.db.mu.Unlock()
		return err
	}
	return nil
}

type memMessages struct{ db *memDB }

func (r memMessages) Create(ctx context.Context, msg *domain.Message) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	r.db.messages[msg.ID] = msg.Clone()
	return nil
}

func (r memMessages) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.findErr != nil {
		return nil, r.db.findErr
	}
	m, ok := r.db.messages[id]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (r memMessages) UpdateState(ctx context.Context, msg *domain.Message, expectedVersion int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.updateErr != nil {
		return r.db.updateErr
	}
	cur, ok := r.db.messages[msg.ID]
	if !ok || cur.Version != expectedVersion {
		return domain.ErrInvalidState
	}
	msg.Version = expectedVersion + 1
	r.db.messages[msg.ID] = msg.Clone()
	return nil
}

func (r memMessages) FindByState(ctx context.Context, state domain.MessageState) ([]*domain.Message, error) {
	return r.filter(func(m *domain.Message) bool { return m.State == state }, false), nil
}

func (r memMessages) FindBySender(ctx context.Context, senderID string, filter domain.MessageFilter) ([]*domain.Message, error) {
	return r.filter(func(m *domain.Message) bool {
		return m.SenderID == senderID && (filter.State == "" || m.State == filter.State) &&
			(filter.Counterparty == "" || m.ReceiverID == filter.Counterparty)
	}, true), nil
}

func (r memMessages) FindByReceiver(ctx context.Context, receiverID string, filter domain.MessageFilter) ([]*domain.Message, error) {
	return r.filter(func(m *domain.Message) bool {
		return m.ReceiverID == receiverID && (filter.State == "" || m.State == filter.State) &&
			(filter.Counterparty == "" || m.SenderID == filter.Counterparty)
	}, true), nil
}

func (r memMessages) CountBySender(ctx context.Context, senderID string) (int64, error) {
	return int64(len(r.filter(func(m *domain.Message) bool { return m.SenderID == senderID }, false))), nil
}

func (r memMessages) CountByReceiver(ctx context.Context, receiverID string) (int64, error) {
	return int64(len(r.filter(func(m *domain.Message) bool { return m.ReceiverID == receiverID }, false))), nil
}

func (r memMessages) CountByStates(ctx context.Context, states []domain.MessageState) (int64, error) {
	return int64(len(r.filter(func(m *domain.Message) bool { return slices.Contains(states, m.State) }, false))), nil
}

func (r memMessages) filter(match func(*domain.Message) bool, newestFirst bool) []*domain.Message {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.db.messages {
		if match(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type memAudits struct{ db *memDB }

func (r memAudits) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.appendErr != nil {
		return r.db.appendErr
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	cp := *entry
	r.db.audits = append(r.db.audits, &cp)
	return nil
}

func (r memAudits) FindByMessageID(ctx context.Context, messageID string) ([]*domain.AuditLogEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*domain.AuditLogEntry
	for i := len(r.db.audits) - 1; i >= 0; i-- {
		if r.db.audits[i].MessageID == messageID {
			cp := *r.db.audits[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memCerts struct{ db *memDB }

func (r memCerts) Create(ctx context.Context, cert *domain.Certificate) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.certs[cert.MessageID]; ok {
		return domain.ErrAlreadyCertified
	}
	if cert.ID == "" {
		cert.ID = uuid.New().String()
	}
	cp := *cert
	r.db.certs[cert.MessageID] = &cp
	return nil
}

func (r memCerts) FindByMessageID(ctx context.Context, messageID string) (*domain.Certificate, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.certs[messageID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

type memKeys struct{ db *memDB }

func (r memKeys) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, k := range r.db.keys {
		if k.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (r memKeys) Create(ctx context.Context, key *domain.DataKey) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *key
	cp.WrappedKey = bytes.Clone(key.WrappedKey)
	r.db.keys[key.Handle] = &cp
	return nil
}

func (r memKeys) FindByHandle(ctx context.Context, handle string) (*domain.DataKey, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k, ok := r.db.keys[handle]
	if !ok {
		return nil, nil
	}
	cp := *k
	cp.WrappedKey = bytes.Clone(k.WrappedKey)
	return &cp, nil
}

// fakeKEK は "wrapped:" を前置するだけのテスト用KEK。
type fakeKEK struct {
	encryptErr error
	decryptErr error
}

func (k *fakeKEK) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k.encryptErr != nil {
		return nil, k.encryptErr
	}
	return append([]byte("wrapped:"), plaintext...), nil
}

func (k *fakeKEK) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if k.decryptErr != nil {
		return nil, k.decryptErr
	}
	plain, ok := bytes.CutPrefix(ciphertext, []byte("wrapped:"))
	if !ok {
		return nil, fmt.Errorf("%w: not wrapped by this KEK", domain.ErrDecryptFailed)
	}
	return bytes.Clone(plain), nil
}

// recordingSink は配信されたエントリを記録する。
type recordingSink struct {
	mu      sync.Mutex
	err     error
	entries []*domain.AuditLogEntry
}

func (s *recordingSink) Publish(ctx context.Context, entry *domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

// countingMetrics は計測値を記録する。
type countingMetrics struct {
	mu                 sync.Mutex
	transitions        map[string]int
	contentUnavailable int
	publishFailures    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{transitions: make(map[string]int)}
}

func (m *countingMetrics) ObserveTransition(action, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[fmt.Sprintf("%s/%s", action, result)]++
}

func (m *countingMetrics) IncContentUnavailable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contentUnavailable++
}

func (m *countingMetrics) IncAuditPublishFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishFailures++
}

// testEngine はインメモリストアで組み立てたエンジンとその依存。
type testEngine struct {
	engine  *LifecycleEngine
	db      *memDB
	kek     *fakeKEK
	sink    *recordingSink
	metrics *countingMetrics
}

func newTestEngine(opts ...Option) *testEngine {
	db := newMemDB()
	kek := &fakeKEK{}
	sink := &recordingSink{}
	metrics := newCountingMetrics()
	vault := NewKeyVault(memKeys{db}, kek)
	issuer := NewCertificateIssuer(memCerts{db}, DefaultCertificateValidity)
	opts = append([]Option{WithAuditSink(sink), WithMetrics(metrics)}, opts...)
	engine := NewLifecycleEngine(memMessages{db}, memAudits{db}, memTx{db}, vault, issuer, opts...)
	return &testEngine{engine: engine, db: db, kek: kek, sink: sink, metrics: metrics}
}

// auditKinds はメッセージの監査ログ種別を古い順に返す。
func (te *testEngine) auditKinds(messageID string) []domain.AuditKind {
	te.db.mu.Lock()
	defer te.db.mu.Unlock()
	var kinds []domain.AuditKind
	for _, e := range te.db.audits {
		if e.MessageID == messageID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func (te *testEngine) stored(messageID string) *domain.Message {
	te.db.mu.Lock()
	defer te.db.mu.Unlock()
	m, ok := te.db.messages[messageID]
	if !ok {
		return nil
	}
	return m.Clone()
}
