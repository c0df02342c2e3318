package httpx_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/httpx"
)

type fakeDoer struct {
	responses []*http.Response
	errs      []error
	calls     int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.responses[i], nil
}

func jsonResp(status int, body string, headers map[string]string) *http.Response {
	r := &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

type instantSleeper struct{ slept []time.Duration }

func (s *instantSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func TestClient_SucceedsFirstTry(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResp(200, `{"ok":true}`, nil)}}
	client, err := httpx.NewClient(httpx.RateLimitConfig{PerSecond: 100, Burst: 10}, httpx.DefaultBackoff(), doer, nil, nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), httpx.Request{Method: "GET", URL: "http://example.test"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, doer.calls)
}

func TestClient_ConstructionFailsOnNonPositiveRate(t *testing.T) {
	_, err := httpx.NewClient(httpx.RateLimitConfig{PerSecond: 0}, httpx.DefaultBackoff(), &fakeDoer{}, nil, nil)
	require.Error(t, err)
}

func TestClient_RetriesOn5xxThenSucceeds(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResp(503, "unavailable", nil),
		jsonResp(200, `{"ok":true}`, nil),
	}}
	client, err := httpx.NewClient(httpx.RateLimitConfig{PerSecond: 100, Burst: 10}, httpx.DefaultBackoff(), doer, nil, nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), httpx.Request{Method: "GET", URL: "http://example.test"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, doer.calls)
}

func TestClient_NonRetriableClientErrorFailsImmediately(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResp(400, "bad request", nil)}}
	client, err := httpx.NewClient(httpx.RateLimitConfig{PerSecond: 100, Burst: 10}, httpx.DefaultBackoff(), doer, nil, nil)
	require.NoError(t, err)

	_, err = client.Do(context.Background(), httpx.Request{Method: "GET", URL: "http://example.test"})
	require.Error(t, err)
	assert.Equal(t, 1, doer.calls)
}

func TestClient_RateLimitHonorsRetryAfterHeader(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResp(429, "rate limited", map[string]string{"Retry-After": "2"}),
		jsonResp(200, `{"ok":true}`, nil),
	}}
	client, err := httpx.NewClient(httpx.RateLimitConfig{PerSecond: 100, Burst: 10}, httpx.DefaultBackoff(), doer, nil, nil)
	require.NoError(t, err)

	_, err = client.Do(context.Background(), httpx.Request{Method: "GET", URL: "http://example.test"})
	require.NoError(t, err)
	assert.Equal(t, 2, doer.calls)
}
