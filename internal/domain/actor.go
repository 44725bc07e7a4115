package domain

import "strings"

// Role はアクターの役割を表す。
type Role string

const (
	RoleAuthority Role = "AUTHORITY"
	RoleRouter    Role = "ROUTER"
	RolePublisher Role = "PUBLISHER"
	RoleUser      Role = "USER"
)

// ParseRole は文字列を役割に変換する。旧表記 "CA" は AUTHORITY として扱う。
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTHORITY", "CA":
		return RoleAuthority, nil
	case "ROUTER":
		return RoleRouter, nil
	case "PUBLISHER":
		return RolePublisher, nil
	case "USER":
		return RoleUser, nil
	default:
		return "", ErrInvalidRole
	}
}

// Actor は認証済みの操作主体を表す。リクエストごとに一度だけ解決される。
type Actor struct {
	ID   string
	Role Role
}

// Action はメッセージに対する操作を表す。
type Action string

const (
	ActionSend    Action = "send"
	ActionAccept  Action = "accept"
	ActionCertify Action = "certify"
	ActionDeliver Action = "deliver"
	ActionReject  Action = "reject"
	ActionRead    Action = "read"
	ActionStatus  Action = "status"
)

// TransitionPayload は遷移要求に付随するデータ。
type TransitionPayload struct {
	// Plaintext は send 時の平文本文。
	Plaintext []byte
	// CertificateData は certify 時に認証局が提示する署名データ。
	CertificateData []byte
	Notes           string
}
