package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/kkkkikiki/studyping/internal/service"
	"github.com/kkkkikiki/studyping/internal/telegram"
)

// RecordedMessage answers a valid click on a ping that links nowhere.
const RecordedMessage = "Thanks, your response has been recorded."

type handlers struct {
	d Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"studyping","hostname":%q}`, hostname)
}

func (h *handlers) healthDB(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.d.PingDB == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"error","message":"postgres not configured"}`))
		return
	}
	if err := h.d.PingDB(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"error","message":"postgres unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","postgres":"connected"}`))
}

// forward handles GET /ping/{pingID}?code=...
func (h *handlers) forward(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "pingID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	res, err := h.d.Forwarder.Forward(r.Context(), id, r.URL.Query().Get("code"))
	switch {
	case errors.Is(err, service.ErrPingNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, service.ErrInvalidCode):
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	case err != nil:
		log.Printf("[FORWARD] ping=%d: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if res.Expired {
		writeText(w, http.StatusOK, service.ExpiredMessage)
		return
	}
	if res.RedirectURL == "" {
		writeText(w, http.StatusOK, RecordedMessage)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusTemporaryRedirect)
}

// linkQR renders a QR code that opens the bot with the link code prefilled.
func (h *handlers) linkQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !service.ValidLinkCode(code) || h.d.BotUsername == "" {
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(h.botLink(code), qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to generate qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// botLink opens a chat with the bot and the link code prefilled.
func (h *handlers) botLink(code string) string {
	return "https://t.me/" + h.d.BotUsername + "?start=" + code
}

// telegramWebhook handles POST /tg/webhook?secret=...
func (h *handlers) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("secret")
	if h.d.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.d.WebhookSecret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var up telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&up); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Telegram retries anything but 200, so command failures are answered
	// in the chat instead.
	if up.Message != nil && up.Message.Chat != nil {
		h.handleCommand(r.Context(), up.Message)
	}
	writeText(w, http.StatusOK, "ok")
}

func (h *handlers) handleCommand(ctx context.Context, m *telegram.Message) {
	cmd, arg, ok := telegram.ParseCommand(m.Text)
	if !ok || (cmd != "start" && cmd != "link") {
		return
	}
	chat := strconv.FormatInt(m.Chat.ID, 10)
	if arg == "" {
		h.reply(ctx, chat, "Send /link followed by the code from your signup page.")
		return
	}

	_, err := h.d.Linker.Link(ctx, arg, chat)
	switch {
	case err == nil, errors.Is(err, service.ErrGenerationFailed):
		h.reply(ctx, chat, "You're linked! Study messages will arrive in this chat.")
	case errors.Is(err, service.ErrInvalidLinkCode):
		h.reply(ctx, chat, "That code is invalid or has expired.")
	default:
		log.Printf("[LINK] chat=%s: %v", chat, err)
		h.reply(ctx, chat, "Something went wrong. Please try again later.")
	}
}

func (h *handlers) reply(ctx context.Context, chat, text string) {
	if h.d.Replier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.d.Replier.Send(ctx, chat, text); err != nil {
		log.Printf("[LINK] failed to reply to chat=%s: %v", chat, err)
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}
