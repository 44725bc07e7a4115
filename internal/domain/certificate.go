package domain

import "time"

// Certificate は認証局によるメッセージの証明を表す。
type Certificate struct {
	ID              string
	MessageID       string
	IssuerID        string
	CertificateData []byte
	IssuedAt        time.Time
	ValidUntil      time.Time
}
