package render

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 quillcast-render/1.0"

// scriptContentTypes lists MIME types accepted for script sources when
// content-type strictness is enabled.
var scriptContentTypes = map[string]bool{
	"application/javascript":   true,
	"application/x-javascript": true,
	"application/ecmascript":   true,
	"text/javascript":          true,
	"text/ecmascript":          true,
	"module":                   true,
}

// ClientOptions configures the HTTP client shared by the network shim,
// the module loader, and external script retrieval.
type ClientOptions struct {
	Timeout            time.Duration // per-call ceiling; further capped by the run budget
	MaxRedirects       int
	MaxResponseBytes   int64
	UserAgent          string
	StrictContentTypes bool // reject non-script MIME types for script/module loads

	// AllowPrivateHosts disables the private-address guard. Off by
	// default so a rendered page cannot probe loopback or RFC 1918
	// ranges. Tests targeting httptest servers turn this on.
	AllowPrivateHosts bool

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = 10
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = 5 << 20
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// Response is the decoded outcome of a client call. Body is fully read
// and decompressed; FinalURL reflects any followed redirects.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Fetcher is the outbound-HTTP contract used throughout a run. *Client
// is the default implementation; tests may substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*Response, error)
	FetchScript(ctx context.Context, rawURL string) (string, error)
}

// Client performs outbound HTTP for a run: redirect-capped, size-capped,
// with gzip/deflate/br decoding and an optional private-address guard.
type Client struct {
	opts      ClientOptions
	transport http.RoundTripper
}

// NewClient creates a Client with the given options.
func NewClient(opts ClientOptions) *Client {
	opts = opts.withDefaults()
	transport := opts.Transport
	if transport == nil {
		if opts.AllowPrivateHosts {
			transport = http.DefaultTransport
		} else {
			transport = &http.Transport{DialContext: guardedDialContext}
		}
	}
	return &Client{opts: opts, transport: transport}
}

// Fetch performs one HTTP round trip. Network-level failures are returned
// as errors for the caller (the shim layer) to translate into rejected
// in-page results.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	if !c.opts.AllowPrivateHosts && isPrivateHostname(rawURL) {
		return nil, fmt.Errorf("request to private address is not allowed")
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	client := &http.Client{
		Timeout:   c.opts.Timeout,
		Transport: c.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.opts.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", c.opts.MaxRedirects)
			}
			if !c.opts.AllowPrivateHosts && isPrivateHostname(req.URL.String()) {
				return fmt.Errorf("redirect to private address is not allowed")
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(reader, c.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > c.opts.MaxResponseBytes {
		data = data[:c.opts.MaxResponseBytes]
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   finalURL,
	}, nil
}

// FetchScript retrieves a script or module source. Non-2xx statuses are
// errors, and under StrictContentTypes so are non-script MIME types.
func (c *Client) FetchScript(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.Fetch(ctx, http.MethodGet, rawURL, http.Header{
		"Accept": []string{"application/javascript, text/javascript;q=0.9, */*;q=0.1"},
	}, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if c.opts.StrictContentTypes {
		ct := resp.Header.Get("Content-Type")
		if ct != "" {
			mt, _, err := mime.ParseMediaType(ct)
			if err != nil || !scriptContentTypes[strings.ToLower(mt)] {
				return "", fmt.Errorf("unexpected content type %q", ct)
			}
		}
	}
	return string(resp.Body), nil
}

// decodeBody unwraps Content-Encoding. Go's transport only decodes gzip
// when it set Accept-Encoding itself; we always set it, so decode here.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// isPrivateHostname performs a fast, non-resolving pre-check for obviously
// private hostnames and literal IP addresses. It does not resolve DNS —
// the actual guard happens in guardedDialContext at connect time.
func isPrivateHostname(rawURL string) bool {
	hostname := hostOf(rawURL)
	if hostname == "" {
		return true // block unparseable URLs
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return isPrivateIP(ip)
	}
	return false
}

// guardedDialContext resolves DNS and validates the resolved IP against
// private ranges at connect time, preventing DNS-rebinding bypasses of the
// pre-check.
func guardedDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", host, err)
	}
	for _, ip := range ips {
		if !isPrivateIP(ip.IP) {
			dialer := &net.Dialer{}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
		}
	}
	return nil, fmt.Errorf("request to private address is not allowed")
}

// privateRanges is parsed once at init time to avoid repeated allocations
// on every isPrivateIP call.
var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		// IPv4 private and special-use ranges
		"0.0.0.0/8",       // "This" network (RFC 1122)
		"10.0.0.0/8",      // Private (RFC 1918)
		"100.64.0.0/10",   // Carrier-grade NAT (RFC 6598)
		"127.0.0.0/8",     // Loopback (RFC 1122)
		"169.254.0.0/16",  // Link-local (RFC 3927)
		"172.16.0.0/12",   // Private (RFC 1918)
		"192.0.0.0/24",    // IETF protocol assignments (RFC 6890)
		"192.168.0.0/16",  // Private (RFC 1918)
		"198.18.0.0/15",   // Benchmarking (RFC 2544)
		"240.0.0.0/4",     // Reserved (RFC 1112)
		// IPv6
		"::1/128",   // Loopback
		"fc00::/7",  // Unique local address
		"fe80::/10", // Link-local
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR: " + cidr)
		}
		privateRanges = append(privateRanges, n)
	}
}

// isPrivateIP returns true if the IP is in a private, loopback, or
// link-local range.
func isPrivateIP(ip net.IP) bool {
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
