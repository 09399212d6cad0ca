package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				body, _ := io.ReadAll(r.Body)
				mu.Lock()
				seen = append(seen, r.URL.Path+"?"+r.URL.RawQuery+"\n"+string(body))
				mu.Unlock()
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(`{"bucket":"recovery-bucket","name":"harvester/recovery/run-1/a.json"}`)),
					Header:     http.Header{"Content-Type": []string{"application/json"}},
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)

	store, err := New(client, Config{Bucket: "recovery-bucket", Prefix: "/harvester/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "recovery/run-1/a.json", "application/json", strings.NewReader(`{"cells":2}`))
	require.NoError(t, err)
	require.Equal(t, "gs://recovery-bucket/harvester/recovery/run-1/a.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Contains(t, seen[0], "/b/recovery-bucket/o")
	require.Contains(t, seen[0], `{"cells":2}`)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket")

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")
}

func TestPutObjectRefusesOverwrite(t *testing.T) {
	t.Parallel()

	var query string
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				query = r.URL.RawQuery
				_, _ = io.Copy(io.Discard, r.Body)
				return &http.Response{
					StatusCode: http.StatusPreconditionFailed,
					Body:       io.NopCloser(strings.NewReader(`{"error":{"code":412,"message":"conditionNotMet"}}`)),
					Header:     http.Header{"Content-Type": []string{"application/json"}},
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)

	store, err := New(client, Config{Bucket: "recovery-bucket"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "recovery/run-1/a.json", "application/json", strings.NewReader(`{}`))
	require.ErrorContains(t, err, "gs://recovery-bucket/recovery/run-1/a.json")
	require.Contains(t, query, "ifGenerationMatch=0")
}
