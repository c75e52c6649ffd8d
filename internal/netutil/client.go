// Package netutil builds the HTTP client used to download metadata.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxDocumentSize bounds a single metadata download. Large
// federation aggregates are tens of megabytes.
const DefaultMaxDocumentSize = 256 * 1024 * 1024

// ErrTooLarge is returned when a body exceeds the configured limit.
var ErrTooLarge = errors.New("document exceeds maximum size")

type ClientConfig struct {
	// BlockPrivateHosts refuses loopback, RFC 1918 and other reserved
	// destinations, checked again on every resolved address.
	BlockPrivateHosts bool
	// UseEnvironmentProxy honours HTTP_PROXY/HTTPS_PROXY/NO_PROXY.
	UseEnvironmentProxy bool
	MaxRedirects        int
	Timeout             time.Duration
	MaxSize             int64
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		UseEnvironmentProxy: true,
		MaxRedirects:        5,
		Timeout:             60 * time.Second,
		MaxSize:             DefaultMaxDocumentSize,
	}
}

// NewClient returns an http.Client that follows at most MaxRedirects
// redirects, never downgrades from https to http and optionally
// refuses private destinations.
func NewClient(config ClientConfig) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	dialCtx := dialer.DialContext
	if config.BlockPrivateHosts {
		dialCtx = safeDialContext
	}

	var proxy func(*http.Request) (*url.URL, error)
	// A proxy would resolve the destination for us and bypass the dial check.
	if config.UseEnvironmentProxy && !config.BlockPrivateHosts {
		proxy = http.ProxyFromEnvironment
	}

	maxRedirects := config.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 5
	}

	return &http.Client{
		Timeout: config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			if err := ValidateURL(req.URL.String(), config.BlockPrivateHosts); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			if len(via) > 0 && via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme == "http" {
				return fmt.Errorf("HTTPS to HTTP downgrade not allowed")
			}
			return nil
		},
		Transport: &http.Transport{
			DialContext:         dialCtx,
			Proxy:               proxy,
			TLSHandshakeTimeout: 15 * time.Second,
		},
	}
}

// ValidateURL accepts http and https URLs. With blockPrivate set,
// literal private addresses and localhost are refused.
func ValidateURL(rawURL string, blockPrivate bool) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	if blockPrivate {
		return validateHostNotPrivate(strings.ToLower(parsed.Hostname()))
	}
	return nil
}

func validateHostNotPrivate(host string) error {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("localhost not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateOrReservedIP(ip) {
		return fmt.Errorf("private/reserved IP address not allowed: %s", host)
	}
	return nil
}

var reservedV4 = []*net.IPNet{
	cidr("0.0.0.0/8"),
	cidr("100.64.0.0/10"),
	cidr("192.0.0.0/24"),
	cidr("192.0.2.0/24"),
	cidr("198.18.0.0/15"),
	cidr("198.51.100.0/24"),
	cidr("203.0.113.0/24"),
	cidr("240.0.0.0/4"),
}

func cidr(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func IsPrivateOrReservedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		for _, n := range reservedV4 {
			if n.Contains(ip4) {
				return true
			}
		}
	}
	return false
}

func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses found for %s", host)
	}
	for _, ip := range ips {
		if IsPrivateOrReservedIP(ip) {
			return nil, fmt.Errorf("%s resolved to private/reserved address %s; connection blocked", host, ip)
		}
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

// ReadLimited reads r fully, failing with ErrTooLarge past max bytes.
// A max of zero or less disables the limit.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, max)
	}
	return data, nil
}
