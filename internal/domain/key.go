package domain

import "time"

// DataKey は KEK でラップされたメッセージ単位のデータ鍵を表す（平文鍵を含まない）。
type DataKey struct {
	Handle     string
	MessageID  string
	WrappedKey []byte
	CreatedAt  time.Time
}
