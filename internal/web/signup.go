package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kkkkikiki/studyping/internal/service"
)

var validate = validator.New()

type signupRequest struct {
	StudyCode string `json:"study_code" validate:"required,max=64"`
	PID       string `json:"pid" validate:"required,max=255"`
	TZ        string `json:"tz" validate:"required"`
}

type signupResponse struct {
	EnrollmentID      int64     `json:"enrollment_id"`
	LinkCode          string    `json:"link_code"`
	LinkCodeExpiresAt time.Time `json:"link_code_expires_at"`
	QRURL             string    `json:"qr_url"`
	BotURL            string    `json:"bot_url,omitempty"`
}

// signup handles POST /signup. The response carries the link code the
// participant sends to the bot and where to fetch its QR code.
func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	if h.d.Signer == nil {
		http.NotFound(w, r)
		return
	}

	var req signupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.StudyCode = strings.TrimSpace(req.StudyCode)
	req.PID = strings.TrimSpace(req.PID)
	if err := validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "study_code, pid and tz are required")
		return
	}

	e, err := h.d.Signer.Signup(r.Context(), req.StudyCode, req.PID, req.TZ)
	switch {
	case errors.Is(err, service.ErrStudyNotFound):
		writeJSONError(w, http.StatusNotFound, "unknown study code")
		return
	case errors.Is(err, service.ErrInvalidTimezone):
		writeJSONError(w, http.StatusBadRequest, "unknown timezone")
		return
	case err != nil:
		log.Printf("[LINK] signup study=%q: %v", req.StudyCode, err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := signupResponse{EnrollmentID: e.ID}
	if e.LinkCode != nil {
		resp.LinkCode = *e.LinkCode
	}
	if e.LinkCodeExpireTS != nil {
		resp.LinkCodeExpiresAt = e.LinkCodeExpireTS.UTC()
	}
	resp.QRURL = strings.TrimRight(h.d.PublicURL, "/") + "/link/" + resp.LinkCode + "/qr.png"
	if h.d.BotUsername != "" {
		resp.BotURL = h.botLink(resp.LinkCode)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
