package render

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// cookieJar is the run-scoped cookie store shared by document.cookie and
// the network shim. It implements the subset of cookie semantics a
// data-extraction harness needs: name/value storage per host, expiry
// deletion, and Set-Cookie capture. It is discarded with the run.
type cookieJar struct {
	mu      sync.Mutex
	cookies map[string]jarCookie // keyed by host + "\x00" + name
}

type jarCookie struct {
	host  string
	name  string
	value string
}

func newCookieJar() *cookieJar {
	return &cookieJar{cookies: make(map[string]jarCookie)}
}

// setFromDocument applies one document.cookie assignment for the given
// host. Unparsable input is ignored, matching browser behavior.
func (j *cookieJar) setFromDocument(host, s string) {
	parts := strings.Split(s, ";")
	if len(parts) == 0 {
		return
	}
	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	if !ok || name == "" {
		return
	}
	name = strings.TrimSpace(name)

	expired := false
	for _, attr := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "max-age":
			if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs <= 0 {
				expired = true
			}
		case "expires":
			if t, err := time.Parse(time.RFC1123, strings.TrimSpace(v)); err == nil && t.Before(time.Now()) {
				expired = true
			}
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	key := host + "\x00" + name
	if expired {
		delete(j.cookies, key)
		return
	}
	j.cookies[key] = jarCookie{host: host, name: name, value: strings.TrimSpace(value)}
}

// storeFromResponse captures Set-Cookie headers from a shim response.
func (j *cookieJar) storeFromResponse(host string, header http.Header) {
	resp := http.Response{Header: header}
	for _, c := range resp.Cookies() {
		if c.Name == "" {
			continue
		}
		j.mu.Lock()
		key := host + "\x00" + c.Name
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(j.cookies, key)
		} else {
			j.cookies[key] = jarCookie{host: host, name: c.Name, value: c.Value}
		}
		j.mu.Unlock()
	}
}

// headerFor renders the Cookie header value for a request to host, in
// stable name order. Empty when no cookies match.
func (j *cookieJar) headerFor(host string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var pairs []string
	for _, c := range j.cookies {
		if c.host == host {
			pairs = append(pairs, c.name+"="+c.value)
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "; ")
}

// documentCookie renders the document.cookie getter value for host.
func (j *cookieJar) documentCookie(host string) string {
	return j.headerFor(host)
}
