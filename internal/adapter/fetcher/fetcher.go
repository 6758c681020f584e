package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/jgivc/emogoexport/internal/metrics"
)

const (
	resultSuccess = "success"

	mimeTypeUnknown = "application/octet-stream"
)

var errTooManyRedirects = errors.New("too many redirects")

type Config struct {
	MaxRedirects int
	UserAgent    string
}

type fetcher struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

func NewFetcher(cfg Config, log *slog.Logger) *fetcher {
	return NewFetcherWithTransport(cfg, http.DefaultTransport, log)
}

func NewFetcherWithTransport(cfg Config, transport http.RoundTripper, log *slog.Logger) *fetcher {
	maxRedirects := cfg.MaxRedirects

	return &fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return errTooManyRedirects
				}

				return nil
			},
		},
		userAgent: cfg.UserAgent,
		log:       log.With(slog.String("item", "Fetcher")),
	}
}

// Fetch makes a single GET attempt. It never returns an error: every problem
// is reported as a classified failure in the outcome.
func (f *fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) entity.FetchOutcome {
	start := time.Now()
	outcome := f.fetch(ctx, rawURL, timeout)

	result := resultSuccess
	if !outcome.OK() {
		result = outcome.Failure.Reason.Class()
	}
	metrics.MediaFetches.WithLabelValues(result).Inc()
	metrics.MediaFetchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	return outcome
}

func (f *fetcher) fetch(ctx context.Context, rawURL string, timeout time.Duration) entity.FetchOutcome {
	log := f.log.With(slog.String("url", rawURL))

	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("not an absolute url")
		}
		log.Debug("Invalid media url", slog.Any("error", err))

		return entity.FetchFailed(entity.FailureNetworkError, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return entity.FetchFailed(entity.FailureNetworkError, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		reason := classify(ctx, err)
		log.Debug("Cannot fetch media", slog.String("reason", string(reason)), slog.Any("error", err))

		return entity.FetchFailed(reason, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		log.Debug("Unexpected media response", slog.Int("status", resp.StatusCode))

		return entity.FetchFailed(entity.FailureHTTPStatus(resp.StatusCode), fmt.Errorf("response not ok: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		reason := classify(ctx, err)
		log.Debug("Cannot read media body", slog.String("reason", string(reason)), slog.Any("error", err))

		return entity.FetchFailed(reason, err)
	}

	return entity.FetchSucceeded(body, contentType(resp.Header.Get("Content-Type"), body))
}

func classify(ctx context.Context, err error) entity.FailureReason {
	if errors.Is(err, errTooManyRedirects) {
		return entity.FailureTooManyRedirects
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return entity.FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return entity.FailureTimeout
	}

	return entity.FailureNetworkError
}

func contentType(header string, body []byte) string {
	if header != "" {
		if mediaType, _, err := mime.ParseMediaType(header); err == nil && mediaType != mimeTypeUnknown {
			return mediaType
		}
	}

	if len(body) == 0 {
		return mimeTypeUnknown
	}

	return mimetype.Detect(body).String()
}
