package config

import (
	"math"
	"net/http"
	"time"
)

// ToCookie builds the cookie carrying value for the given lifetime. A
// negative lifetime builds a cookie deleting the previous one.
func (ct *CookieTemplate) ToCookie(value string, lifetime time.Duration) *http.Cookie {
	var sameSite http.SameSite
	switch ct.SameSite {
	case CookieSameSiteNone:
		sameSite = http.SameSiteNoneMode
	case CookieSameSiteLax:
		sameSite = http.SameSiteLaxMode
	case CookieSameSiteStrict:
		sameSite = http.SameSiteStrictMode
	}

	maxAge := 0
	switch {
	case lifetime < 0:
		maxAge = -1
	case lifetime > 0:
		maxAge = int(math.Ceil(lifetime.Seconds()))
	}

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   maxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: sameSite,
	}
}
