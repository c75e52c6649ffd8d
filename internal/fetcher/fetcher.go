// Package fetcher resolves a source identifier to document bytes,
// applying conditional GET validators from the previous run.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"

	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/netutil"
)

// Outcome of one fetch attempt
type Outcome int

const (
	// Failed covers transport errors and unexpected status codes.
	Failed Outcome = iota
	// Fresh is a 2xx response with a body.
	Fresh
	// NotModified is a 304 answer to a conditional request.
	NotModified
	// Local is a file read from disk.
	Local
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case NotModified:
		return "not-modified"
	case Local:
		return "local"
	}
	return "failed"
}

// HasBody reports whether the outcome carries a document to parse.
func (o Outcome) HasBody() bool {
	return o == Fresh || o == Local
}

// Validators are the response headers kept for the next conditional GET.
type Validators struct {
	LastModified string
	ETag         string
}

// Result of Fetch
type Result struct {
	Outcome    Outcome
	Body       []byte
	Validators Validators
	// Status is zero for local files and transport failures.
	Status int
	Err    error
}

// HTTPClient is the transport collaborator.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher issues requests for remote sources and reads local ones.
type Fetcher struct {
	client    HTTPClient
	userAgent string
	maxSize   int64
}

// Option configures a Fetcher
type Option func(*Fetcher)

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithMaxSize bounds response and file sizes; zero disables the bound.
func WithMaxSize(n int64) Option {
	return func(f *Fetcher) { f.maxSize = n }
}

func New(client HTTPClient, opts ...Option) *Fetcher {
	if client == nil {
		client = netutil.NewClient(netutil.DefaultClientConfig())
	}
	f := &Fetcher{client: client, maxSize: netutil.DefaultMaxDocumentSize}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var remotePattern = regexp.MustCompile(`(?i)^https?://`)

// IsRemote reports whether src is fetched over HTTP.
func IsRemote(src string) bool {
	return remotePattern.MatchString(src)
}

// Fetch retrieves src. When conditional is set, validators from prior
// are sent as If-Modified-Since / If-None-Match. A failure never returns
// an error directly; it is reported as Outcome Failed with Err set.
func (f *Fetcher) Fetch(ctx context.Context, src string, conditional bool, prior models.SourceState) Result {
	if !IsRemote(src) {
		return f.readLocal(src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Result{Outcome: Failed, Err: fmt.Errorf("invalid source URL: %w", err)}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if conditional {
		if prior.LastModified != "" {
			req.Header.Set("If-Modified-Since", prior.LastModified)
		}
		if prior.ETag != "" {
			req.Header.Set("If-None-Match", prior.ETag)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Outcome: Failed, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{Outcome: NotModified, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{
			Outcome: Failed,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("unexpected HTTP status %s", resp.Status),
		}
	}

	body, err := netutil.ReadLimited(resp.Body, f.maxSize)
	if err != nil {
		return Result{Outcome: Failed, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return Result{
		Outcome: Fresh,
		Body:    body,
		Status:  resp.StatusCode,
		Validators: Validators{
			LastModified: resp.Header.Get("Last-Modified"),
			ETag:         resp.Header.Get("ETag"),
		},
	}
}

func (f *Fetcher) readLocal(path string) Result {
	file, err := os.Open(path)
	if err != nil {
		return Result{Outcome: Failed, Err: err}
	}
	defer file.Close()

	body, err := netutil.ReadLimited(file, f.maxSize)
	if err != nil {
		return Result{Outcome: Failed, Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}
	return Result{Outcome: Local, Body: body}
}
