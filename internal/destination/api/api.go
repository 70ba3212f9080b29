// Package api forwards artifacts to a remote HTTP service. Requests are
// signed with the destination's pubkey the same way the gateway verifies
// its own callers.
package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Chapsvision-dev/backup-gateway/internal/auth"
	"github.com/Chapsvision-dev/backup-gateway/internal/destination"
	"github.com/Chapsvision-dev/backup-gateway/internal/model"
	"github.com/Chapsvision-dev/backup-gateway/internal/retry"
)

func init() {
	destination.Register(model.DestinationAPI, func(_ context.Context, d model.Destination, opts destination.Options) (destination.Backend, error) {
		return New(*d.API, opts), nil
	})
}

type Backend struct {
	cfg       model.APIConfig
	client    *http.Client
	ro        retry.Options
	userAgent string
	now       func() time.Time
}

func New(cfg model.APIConfig, opts destination.Options) *Backend {
	timeout := opts.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// No overall client timeout: bodies are streamed and may be large.
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Backend{
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		ro:        opts.Retry,
		userAgent: opts.UserAgent,
		now:       time.Now,
	}
}

func (b *Backend) Type() model.DestinationType { return model.DestinationAPI }

// endpoint joins BaseURI and a route without doubling slashes.
func endpoint(base, route string) string {
	base = strings.TrimRight(base, "/")
	route = strings.TrimLeft(route, "/")
	if route == "" {
		return base
	}
	return base + "/" + route
}

func (b *Backend) signed(subdir, filename string) map[string]string {
	return auth.SignParams(map[string]string{
		"subdir":   subdir,
		"filename": filename,
	}, b.cfg.PubKey, b.now())
}

func (b *Backend) query(base, route string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	u := endpoint(base, route)
	if strings.Contains(u, "?") {
		return u + "&" + q.Encode()
	}
	return u + "?" + q.Encode()
}

// Backup streams a multipart body: signed fields first, then the file part.
func (b *Backend) Backup(ctx context.Context, content io.Reader, subdir, filename string) error {
	target := endpoint(b.cfg.BaseURI, b.cfg.SetURI)
	fail := func(err error) error { return destination.Fail("backup", b.Type(), target, err) }
	if err := destination.CheckPath(subdir, filename); err != nil {
		return fail(err)
	}

	start := time.Now()
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	var (
		written int64
		respErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := writeMultipart(gctx, mw, b.signed(subdir, filename), filename, content, &written)
		_ = pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		respErr = b.send(req)
		// Unblock the producer if the request ended before the body was consumed.
		_ = pr.CloseWithError(io.ErrClosedPipe)
		return respErr
	})
	err = g.Wait()
	// A remote status explains a broken pipe on the producer side.
	var se httpStatusError
	if errors.As(respErr, &se) {
		err = respErr
	}
	if err != nil {
		return fail(err)
	}

	log.Info().
		Str("action", "api_backup").
		Str("url", target).
		Int64("bytes", written).
		Dur("elapsed_ms", time.Since(start)).
		Msg("backup forwarded")
	return nil
}

func (b *Backend) send(req *http.Request) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpStatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func writeMultipart(ctx context.Context, mw *multipart.Writer, fields map[string]string, filename string, content io.Reader, written *int64) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	n, err := destination.Copy(ctx, part, content)
	*written = n
	if err != nil {
		return err
	}
	return mw.Close()
}

// Restore issues a signed GET, retrying transient failures. The response
// body is returned unread.
func (b *Backend) Restore(ctx context.Context, subdir, filename string) (io.ReadCloser, error) {
	base := endpoint(b.cfg.BaseURI, b.cfg.GetURI)
	if err := destination.CheckPath(subdir, filename); err != nil {
		return nil, destination.Fail("restore", b.Type(), base, err)
	}

	start := time.Now()
	attempt := 0
	var body io.ReadCloser
	doOnce := func(ctx context.Context) error {
		attempt++
		target := b.query(b.cfg.BaseURI, b.cfg.GetURI, b.signed(subdir, filename))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
		if err != nil {
			return retry.Permanent(err)
		}
		if b.userAgent != "" {
			req.Header.Set("User-Agent", b.userAgent)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			log.Debug().Err(err).Str("action", "api_restore").Int("attempt", attempt).Msg("request error")
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			return retry.Permanent(destination.ErrArtifactNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			retryAfter := parseRetryAfter(resp)
			_ = resp.Body.Close()
			log.Debug().Int("status", resp.StatusCode).Dur("retry_after", retryAfter).
				Str("action", "api_restore").Int("attempt", attempt).Msg("non-2xx response")
			return httpStatusError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
		}
		body = resp.Body
		return nil
	}

	err := retry.Do(ctx, b.ro, isRetryable, func(ctx context.Context) error {
		return honorRetryAfter(ctx, doOnce)
	})
	if err != nil {
		return nil, destination.Fail("restore", b.Type(), base, err)
	}
	log.Debug().Str("action", "api_restore").Str("url", base).Int("attempts", attempt).
		Dur("elapsed_ms", time.Since(start)).Msg("restore stream opened")
	return body, nil
}

// Delete sends a signed DELETE to the set route. 404 counts as deleted.
func (b *Backend) Delete(ctx context.Context, subdir, filename string) error {
	base := endpoint(b.cfg.BaseURI, b.cfg.SetURI)
	if err := destination.CheckPath(subdir, filename); err != nil {
		return destination.Fail("delete", b.Type(), base, err)
	}
	target := b.query(b.cfg.BaseURI, b.cfg.SetURI, b.signed(subdir, filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, http.NoBody)
	if err != nil {
		return destination.Fail("delete", b.Type(), base, err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return destination.Fail("delete", b.Type(), base, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return nil
	}
	return destination.Fail("delete", b.Type(), base, errors.New(resp.Status))
}
