package upstream

import (
	"net/http"
	"net/url"
	"strings"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:146.0) Gecko/20100101 Firefox/146.0"

// Accept-Encoding is left to the transport so gzip bodies are decoded
// transparently.
func setDownloadHeaders(h http.Header) {
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "es-ES,es;q=0.8,en-US;q=0.5,en;q=0.3")
	h.Set("Referer", "https://www.google.com/")
	h.Set("DNT", "1")
	h.Set("Sec-GPC", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "cross-site")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Priority", "u=0, i")
}

func setTransformHeaders(h http.Header, endpoint string) {
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "es-ES,es;q=0.8,en-US;q=0.5,en;q=0.3")
	if origin := originOf(endpoint); origin != "" {
		h.Set("Origin", origin)
		h.Set("Referer", origin+"/")
	}
	h.Set("DNT", "1")
	h.Set("Sec-GPC", "1")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Priority", "u=4")
}

func originOf(endpoint string) string {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
