package utils

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

const CookieUsername = "stockchat_username"

// SetUsernameCookie remembers the display name a browser last chatted as.
func SetUsernameCookie(w http.ResponseWriter, username string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieUsername,
		Value:    url.QueryEscape(username),
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Now().Add(30 * 24 * time.Hour),
		SameSite: http.SameSiteLaxMode,
	})
}

// UsernameFromRequest prefers the username query parameter and falls back
// to the cookie.
func UsernameFromRequest(r *http.Request) string {
	if name := strings.TrimSpace(r.URL.Query().Get("username")); name != "" {
		return name
	}

	cookie, err := r.Cookie(CookieUsername)
	if err != nil {
		return ""
	}
	name, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(name)
}
