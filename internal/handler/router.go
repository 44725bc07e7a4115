package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"secure-message-service/internal/middleware"
	"secure-message-service/pkg/httputil"
)

// NewRouter はルーターを生成する。metrics が nil の場合 /metrics は公開しない。
func NewRouter(h *MessageHandler, tokens *middleware.TokenService, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens))

		r.Get("/stats", h.Stats)
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.CreateMessage)
			r.Get("/pending", h.ListPending)
			r.Get("/inbox", h.Inbox)
			r.Get("/outbox", h.Outbox)
			r.Post("/{message_id}/transitions", h.Transition)
			r.Get("/{message_id}/content", h.ReadContent)
			r.Get("/{message_id}/status", h.GetStatus)
			r.Get("/{message_id}/certificate", h.GetCertificate)
			r.Get("/{message_id}/audit", h.AuditTrail)
		})
	})

	return otelhttp.NewHandler(r, "secure-message-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	)
}
