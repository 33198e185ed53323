package server

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 320
	maxQRSize     = 1024
)

// handleQR renders a PNG QR code pointing guests' phones at the page.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxQRSize {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}
		size = n
	}

	png, err := qrcode.Encode(s.pageURL(r), qrcode.Medium, size)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

// pageURL is the configured public URL, or the page URL derived from the
// request (respecting TLS and X-Forwarded-Proto).
func (s *Server) pageURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return s.config.PublicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/"
}
