// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package harvest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Fetcher downloads documents from the remote server.
type Fetcher interface {
	Fetch(ctx context.Context, url, accept string) ([]byte, error)
}

// HTTPFetcher implements Fetcher with bounded, strictly sequential retries.
// Redirects are not followed by the http.Client; a 301, 302 or 303 response is
// followed once per attempt, and every attempt starts over from the original
// URL.
type HTTPFetcher struct {
	client     *http.Client
	attempts   int
	retryDelay time.Duration
	limiter    *rate.Limiter
	userAgent  string
	log        Logger
	stats      Statter
}

// FetcherOption is a functional option type for HTTPFetcher.
type FetcherOption func(f *HTTPFetcher)

// OptFetcherAttempts sets the number of attempts made for each URL. Values
// below 1 are ignored.
func OptFetcherAttempts(n int) FetcherOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// OptFetcherClient is an option for HTTPFetcher which causes it to use the
// given client. The client is copied, and its CheckRedirect replaced.
func OptFetcherClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// OptFetcherRetryDelay sets a pause between failed attempts.
func OptFetcherRetryDelay(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.retryDelay = d
	}
}

// OptFetcherRateLimit limits requests to perSecond. Zero or less means
// unlimited.
func OptFetcherRateLimit(perSecond float64) FetcherOption {
	return func(f *HTTPFetcher) {
		if perSecond > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			f.limiter = nil
		}
	}
}

// OptFetcherUserAgent sets the User-Agent header of every request.
func OptFetcherUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// OptFetcherLogger sets the logger.
func OptFetcherLogger(l Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		f.log = l
	}
}

// OptFetcherStats sets the stats collector.
func OptFetcherStats(s Statter) FetcherOption {
	return func(f *HTTPFetcher) {
		f.stats = s
	}
}

// NewHTTPFetcher creates an HTTPFetcher - it takes FetcherOptions which modify
// its behavior.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   http.DefaultClient,
		attempts: DefaultAttempts,
		log:      NopLogger{},
		stats:    NopStatter{},
	}
	for _, opt := range opts {
		opt(f)
	}
	c := *f.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	f.client = &c
	return f
}

// Attempts returns the number of attempts made for each URL.
func (f *HTTPFetcher) Attempts() int {
	return f.attempts
}

// WithAttempts returns a copy of f making n attempts for each URL. The copy
// shares f's client and rate limiter.
func (f *HTTPFetcher) WithAttempts(n int) *HTTPFetcher {
	c := *f
	OptFetcherAttempts(n)(&c)
	return &c
}

// Fetch implements Fetcher. It returns a *FetchError once all attempts have
// failed, or as soon as ctx is done.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &FetchError{URL: rawURL, Err: errors.Wrapf(ErrMalformedRequest, "%v", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 && f.retryDelay > 0 {
			t := time.NewTimer(f.retryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, &FetchError{URL: rawURL, Attempts: attempt - 1, Err: ctx.Err()}
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt - 1, Err: err}
		}

		body, err := f.try(ctx, rawURL, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err
		f.stats.Count("fetch.failures", 1, 1)
		if ctx.Err() != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt, Err: err}
		}
		if attempt < f.attempts {
			f.log.Printf("failed to download after attempt %d of %d, url: %s: %v", attempt, f.attempts, rawURL, err)
		}
	}
	return nil, &FetchError{URL: rawURL, Attempts: f.attempts, Err: lastErr}
}

func (f *HTTPFetcher) try(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for rate limiter")
		}
	}
	start := time.Now()
	defer func() { f.stats.Timing("fetch.duration", time.Since(start), 1) }()
	f.stats.Count("fetch.attempts", 1, 1)
	f.log.Debugf("requesting %s", rawURL)

	resp, err := f.get(ctx, rawURL, accept)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		location := resp.Header.Get("Location")
		drain(resp)
		if location == "" {
			return nil, errors.Errorf("response code: %d without a location", resp.StatusCode)
		}
		target, err := ResolveLink(rawURL, location)
		if err != nil {
			return nil, errors.Wrap(err, "resolving redirect")
		}
		f.stats.Count("fetch.redirects", 1, 1)
		f.log.Debugf("following redirect from %s to %s", rawURL, target)
		resp, err = f.get(ctx, target, accept)
		if err != nil {
			return nil, err
		}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("response code: %d, response message: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	f.stats.Count("fetch.bytes", int64(len(body)), 1)
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", accept)
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "requesting")
	}
	return resp, nil
}

// drain reads what is left of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
