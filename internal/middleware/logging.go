// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 操作ログの結果。
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// WriteOperationLog はAPI操作1回分のログを出力する。本文や鍵は含めない。
func WriteOperationLog(ctx context.Context, operation, actorID, messageID, result string) {
	slog.InfoContext(ctx, "message operation completed",
		"operation", operation,
		"actor_id", actorID,
		"message_id", messageID,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
