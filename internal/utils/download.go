package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
)

// HTTPClient is the subset of *http.Client the fetcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher streams remote files to disk while hashing them.
type Fetcher struct {
	client    HTTPClient
	userAgent string
	header    http.Header
	diskCheck bool
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client HTTPClient) FetchOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) FetchOption {
	return func(f *Fetcher) {
		if key != "" && value != "" {
			f.header.Set(key, value)
		}
	}
}

// WithDiskCheck toggles the free space check before writing.
func WithDiskCheck(enabled bool) FetchOption {
	return func(f *Fetcher) { f.diskCheck = enabled }
}

// NewFetcher returns a Fetcher using http.DefaultClient.
func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client:    http.DefaultClient,
		userAgent: "emlpatch",
		header:    make(http.Header),
		diskCheck: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchRequest describes one download.
type FetchRequest struct {
	URL  string
	Dest string
	// SHA256 is the expected hex digest; empty skips verification.
	SHA256    string
	Component models.Component
	Sink      models.Sink
	Header    http.Header
}

// FetchResult reports what was written.
type FetchResult struct {
	Path   string
	SHA256 string
	Size   int64
}

type progressWriter struct {
	sink      models.Sink
	component models.Component
	total     int64
	written   int64
	stage     string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)
	ev := models.Event{
		Component:  pw.component,
		Phase:      models.PhaseProgress,
		Stage:      pw.stage,
		Downloaded: pw.written,
		Total:      pw.total,
	}
	if pw.total > 0 {
		ev.Percent = float64(pw.written) * 100 / float64(pw.total)
	}
	pw.sink.Emit(ev)
	return n, nil
}

// Fetch downloads req.URL to req.Dest. The body is written to a temporary
// file next to Dest and hashed as it streams; Dest is only replaced when the
// digest matches.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	sink := models.OrDiscard(req.Sink)
	fail := func(err error) (FetchResult, error) {
		sink.Emit(models.Event{Component: req.Component, Phase: models.PhaseEnd, Stage: "failed", Err: err.Error()})
		return FetchResult{}, err
	}

	resp, err := f.get(ctx, req.URL, req.Header)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	dir := filepath.Dir(req.Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(fmt.Errorf("create %s: %w", dir, err))
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if f.diskCheck && total > 0 {
		if usage, uerr := disk.UsageWithContext(ctx, dir); uerr == nil && usage.Free < uint64(total) {
			return fail(&models.Error{
				Kind:   models.KindFetch,
				Op:     "download",
				Path:   req.URL,
				Detail: fmt.Sprintf("insufficient disk space in %s: need %d bytes, have %d", dir, total, usage.Free),
			})
		}
	}

	sink.Emit(models.Event{Component: req.Component, Phase: models.PhaseStart, Stage: "downloading", Total: total, Message: req.URL})

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(req.Dest)+".*.part")
	if err != nil {
		return fail(fmt.Errorf("temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	digester := digest.SHA256.Digester()
	pw := &progressWriter{sink: sink, component: req.Component, total: total, stage: "downloading"}
	size, err := io.Copy(io.MultiWriter(tmp, digester.Hash(), pw), resp.Body)
	if err != nil {
		return fail(&models.Error{Kind: models.KindFetch, Op: "download", Path: req.URL, Err: err})
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync %s: %w", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}

	actual := digester.Digest()
	if want := strings.ToLower(strings.TrimSpace(req.SHA256)); want != "" {
		expected := digest.NewDigestFromEncoded(digest.SHA256, want)
		if err := expected.Validate(); err != nil {
			return fail(&models.Error{Kind: models.KindHash, Op: "download", Path: req.URL, Err: err})
		}
		if expected != actual {
			return fail(models.NewHashError("download", req.URL, want, actual.Encoded()))
		}
	}

	if err := replaceFile(tmpName, req.Dest); err != nil {
		return fail(fmt.Errorf("finalize %s: %w", req.Dest, err))
	}
	sink.Emit(models.Event{Component: req.Component, Phase: models.PhaseEnd, Stage: "downloaded", Downloaded: size, Total: total, Percent: 100})
	return FetchResult{Path: req.Dest, SHA256: actual.Encoded(), Size: size}, nil
}

// GetJSON fetches url and decodes the JSON body into v.
func (f *Fetcher) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := f.get(ctx, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &models.Error{Kind: models.KindFetch, Op: "decode", Path: url, Err: err}
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, url string, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.Error{Kind: models.KindFetch, Op: "build request", Path: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &models.Error{Kind: models.KindFetch, Op: "request", Path: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &models.Error{Kind: models.KindFetch, Op: "request", Path: url, Detail: resp.Status}
	}
	return resp, nil
}
