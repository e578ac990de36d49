package i18n

import (
	"net/http"
)

// Middleware picks a printer from Accept-Language, or the lang query
// parameter when present, and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept-Language")
		if lang := r.URL.Query().Get("lang"); lang != "" {
			accept = lang
		}
		tag := MatchLanguage(accept)
		base, _ := tag.Base()
		w.Header().Set("Content-Language", base.String())
		w.Header().Add("Vary", "Accept-Language")
		next.ServeHTTP(w, r.WithContext(WithPrinter(r.Context(), NewPrinter(tag))))
	})
}
