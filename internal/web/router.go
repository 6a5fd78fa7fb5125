package web

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kkkkikiki/studyping/internal/model"
	"github.com/kkkkikiki/studyping/internal/service"
)

// Forwarder resolves clicks on forwarding links
type Forwarder interface {
	Forward(ctx context.Context, pingID int64, code string) (*service.ForwardResult, error)
}

// Linker redeems link codes sent to the bot
type Linker interface {
	Link(ctx context.Context, code, recipient string) (*model.Enrollment, error)
}

// Signer signs participants up to a study
type Signer interface {
	Signup(ctx context.Context, studyCode, pid, tz string) (*model.Enrollment, error)
}

// Deps are the collaborators of the HTTP surface
type Deps struct {
	Forwarder     Forwarder
	Linker        Linker
	Signer        Signer
	PublicURL     string         // base URL the QR code link is built on
	Replier       service.Sender // answers bot commands; may be nil
	BotUsername   string
	WebhookSecret string
	PingDB        func(ctx context.Context) error
}

// NewRouter builds the public HTTP router
func NewRouter(d Deps) *chi.Mux {
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/health/db", h.healthDB)
	r.Handle("/metrics", promhttp.Handler())

	// Participant-facing
	r.Post("/signup", h.signup)
	r.Get("/ping/{pingID}", h.forward)
	r.Get("/link/{code}/qr.png", h.linkQR)
	r.Post("/tg/webhook", h.telegramWebhook)

	return r
}
