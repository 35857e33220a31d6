package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
)

// QR code size bounds in pixels.
const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

type signupResponse struct {
	ReviewCode  string `json:"review_code"`
	ReviewURL   string `json:"review_url"`
	CompanyName string `json:"company_name"`
}

// Signup handles POST /api/v1/signup/{username}. Public: a customer who
// scanned the account's QR code registers and gets a review code back.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserByUsername(r.Context(), h.db, pathID(r, "username"))
	if err != nil {
		failErr(w, "Signup", err)
		return
	}
	var in clients.Input
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := h.clients.Signup(r.Context(), user.ID, in)
	if err != nil {
		failErr(w, "Signup", err)
		return
	}
	h.db.WriteLog(&user.ID, "info", fmt.Sprintf("Client %d signed up through the QR code", c.ID))
	created(w, signupResponse{
		ReviewCode:  c.ReviewCode,
		ReviewURL:   h.config.ReviewLink(c.ReviewCode),
		CompanyName: h.settings.CompanyName(r.Context(), user.ID),
	})
}

// QRCode handles GET /api/v1/qr. It renders the caller's signup link as a
// PNG; ?size= sets the edge in pixels and ?format=json returns the image as
// a data URI with the link it encodes.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minQRSize || n > maxQRSize {
			fail(w, http.StatusBadRequest, fmt.Sprintf("size must be between %d and %d", minQRSize, maxQRSize))
			return
		}
		size = n
	}

	link := h.config.SignupLink(user.Username)
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		failErr(w, "QRCode", err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		ok(w, map[string]interface{}{
			"qr_code":      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
			"signup_url":   link,
			"company_name": h.settings.CompanyName(r.Context(), user.ID),
			"size":         size,
		})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="qr_%s.png"`, user.Username))
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}
