package infra

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"secure-message-service/config"
)

const redactedValue = "[REDACTED]"

// redactedKeys は値をログに出力しない属性キー。
var redactedKeys = map[string]struct{}{
	"content":          {},
	"plaintext":        {},
	"certificate_data": {},
	"master_key":       {},
	"token":            {},
	"authorization":    {},
}

// TraceHandler はスパンのトレース情報をログレコードに付与するslogハンドラ。
type TraceHandler struct {
	next        slog.Handler
	enabled     bool
	tracePrefix string
}

// NewTraceHandler は next をラップする。GOOGLE_CLOUD_PROJECT が設定されていれば
// Cloud Logging のトレース連携フィールドも付与する。
func NewTraceHandler(next slog.Handler, cfg *config.Config) *TraceHandler {
	h := &TraceHandler{next: next, enabled: cfg.OtelEnabled}
	if cfg.GoogleCloudProject != "" {
		h.tracePrefix = "projects/" + cfg.GoogleCloudProject + "/traces/"
	}
	return h
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.enabled {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(h.spanAttrs(sc)...)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *TraceHandler) spanAttrs(sc trace.SpanContext) []slog.Attr {
	traceID := sc.TraceID().String()
	spanID := sc.SpanID().String()
	attrs := []slog.Attr{
		slog.String("trace", traceID),
		slog.String("spanId", spanID),
		slog.Bool("traceSampled", sc.IsSampled()),
	}
	if h.tracePrefix != "" {
		attrs = append(attrs,
			slog.String("logging.googleapis.com/trace", h.tracePrefix+traceID),
			slog.String("logging.googleapis.com/spanId", spanID),
		)
	}
	return attrs
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}

// redactAttr はメッセージ本文や秘密情報の値を伏せる。
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// ParseLogLevel はLOG_LEVELの値をslogのレベルに変換する。未知の値はINFOとする。
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger は w にJSONで出力するロガーを生成する。
// すべてのレコードにサービス名、バージョン、実行環境が付与される。
func NewLogger(w io.Writer, cfg *config.Config, version string) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLogLevel(cfg.LogLevel),
		ReplaceAttr: redactAttr,
	})
	return slog.New(NewTraceHandler(jsonHandler, cfg)).With(
		slog.String("service", cfg.OtelServiceName),
		slog.String("version", version),
		slog.String("env", cfg.Environment),
	)
}

// SetupLogger は標準出力へのロガーをデフォルトに設定する。
func SetupLogger(cfg *config.Config, version string) {
	slog.SetDefault(NewLogger(os.Stdout, cfg, version))
}
