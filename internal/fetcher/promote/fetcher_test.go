package promote

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	body  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, string) (string, error) {
	s.calls++
	return s.body, s.err
}

var staticPage = "<html><body>" + strings.Repeat("<p>About our shop</p>", 20) + "</body></html>"

func TestFetcherKeepsStaticBody(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: staticPage}
	headless := &stubFetcher{body: "rendered"}
	got, err := New(static, headless, nil, nil).Fetch(context.Background(), "http://acme.com")
	require.NoError(t, err)
	require.Equal(t, staticPage, got)
	require.Zero(t, headless.calls)
}

func TestFetcherPromotesShells(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: `<div id="root"></div>`}
	headless := &stubFetcher{body: "rendered"}
	got, err := New(static, headless, nil, nil).Fetch(context.Background(), "http://acme.com")
	require.NoError(t, err)
	require.Equal(t, "rendered", got)
}

func TestFetcherPromotesStaticFailures(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: errors.New("403")}
	headless := &stubFetcher{body: "rendered"}
	got, err := New(static, headless, nil, nil).Fetch(context.Background(), "http://acme.com")
	require.NoError(t, err)
	require.Equal(t, "rendered", got)

	headless.err = errors.New("chrome missing")
	_, err = New(static, headless, nil, nil).Fetch(context.Background(), "http://acme.com")
	require.ErrorContains(t, err, "static: 403")
	require.ErrorContains(t, err, "headless: chrome missing")
}

func TestFetcherFallsBackToShellWhenRenderFails(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: `<div id="app"></div>`}
	headless := &stubFetcher{err: errors.New("timeout")}
	got, err := New(static, headless, nil, nil).Fetch(context.Background(), "http://acme.com")
	require.NoError(t, err)
	require.Equal(t, `<div id="app"></div>`, got)
}

func TestFetcherWithoutHeadless(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: errors.New("refused")}
	_, err := New(static, nil, nil, nil).Fetch(context.Background(), "http://acme.com")
	require.EqualError(t, err, "refused")
}
