package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	url, err := m.Upload(context.Background(), "media/abc.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "memory://media/abc.png", url)
	assert.Equal(t, "image/png", m.ContentType("media/abc.png"))

	rc, err := m.Open(context.Background(), url)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "png", string(data))

	_, err = m.Open(context.Background(), "memory://missing")
	assert.Error(t, err)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.Client())
	rc, err := src.Open(context.Background(), srv.URL+"/v.mp4")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "video-bytes", string(data))

	_, err = src.Open(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}
