// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// MessageState はメッセージのライフサイクル状態を表す。
type MessageState string

const (
	StateDraft              MessageState = "DRAFT"
	StateSent               MessageState = "SENT"
	StateRouterAccepted     MessageState = "ROUTER_ACCEPTED"
	StateCertificateCreated MessageState = "CERTIFICATE_CREATED"
	StateDelivered          MessageState = "DELIVERED"
	StateRejected           MessageState = "REJECTED"
)

// stateOrder は前進方向の順序。REJECTED は順序外の終端状態。
var stateOrder = map[MessageState]int{
	StateDraft:              0,
	StateSent:               1,
	StateRouterAccepted:     2,
	StateCertificateCreated: 3,
	StateDelivered:          4,
}

// ParseMessageState は文字列を状態に変換する。
func ParseMessageState(s string) (MessageState, bool) {
	st := MessageState(s)
	if st == StateRejected {
		return st, true
	}
	_, ok := stateOrder[st]
	return st, ok
}

// IsTerminal は終端状態かどうかを返す。
func (s MessageState) IsTerminal() bool {
	return s == StateDelivered || s == StateRejected
}

// Rank は前進方向の順位を返す。REJECTED は -1。
func (s MessageState) Rank() int {
	if r, ok := stateOrder[s]; ok {
		return r
	}
	return -1
}

// Message はワークフローを流れるメッセージエンティティを表す。
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Subject    string
	// SealedBody は暗号化済み本文。SENT 以降のみ設定される。
	SealedBody []byte
	// KeyHandle は KeyVault が解決する不透明な参照。生の鍵ではない。
	KeyHandle      string
	State          MessageState
	CertificateRef *string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone はメッセージのコピーを返す。
func (m *Message) Clone() *Message {
	c := *m
	if m.SealedBody != nil {
		c.SealedBody = append([]byte(nil), m.SealedBody...)
	}
	if m.CertificateRef != nil {
		ref := *m.CertificateRef
		c.CertificateRef = &ref
	}
	return &c
}

// IsParticipant は actorID が送信者または受信者かどうかを返す。
func (m *Message) IsParticipant(actorID string) bool {
	return actorID != "" && (actorID == m.SenderID || actorID == m.ReceiverID)
}

// MessageStatus はステータス照会の結果を表す（本文を含まない）。
type MessageStatus struct {
	ID        string
	State     MessageState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageFilter は受信箱・送信箱の絞り込み条件。
type MessageFilter struct {
	State MessageState
	// Counterparty は受信箱では送信者、送信箱では受信者のID
	Counterparty string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// ActorStats はアクターごとの集計値。
type ActorStats struct {
	ActorID        string
	Role           Role
	SentCount      int64
	ReceivedCount  int64
	PendingActions int64
}
