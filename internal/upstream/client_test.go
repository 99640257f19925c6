package upstream

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaceClientFetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    []byte
		wantErr bool
	}{
		{name: "success", status: http.StatusOK, body: []byte("jpeg-bytes")},
		{name: "not found", status: http.StatusNotFound, body: []byte("nope"), wantErr: true},
		{name: "server error", status: http.StatusBadGateway, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotUA string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUA = r.Header.Get("User-Agent")
				w.WriteHeader(tc.status)
				_, _ = w.Write(tc.body)
			}))
			defer srv.Close()

			data, err := NewFaceClient(srv.URL, time.Second).Fetch(t.Context())
			if tc.wantErr {
				require.ErrorIs(t, err, domain.ErrDownload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.body, data)
			assert.Contains(t, gotUA, "Firefox")
		})
	}
}

func TestFaceClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewFaceClient(url, time.Second).Fetch(t.Context())
	require.ErrorIs(t, err, domain.ErrDownload)
}

func TestTransformClientSubmitMultipart(t *testing.T) {
	var (
		gotSource, gotTarget []byte
		gotSourceName        string
		gotTargetName        string
		gotOrigin            string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotOrigin = r.Header.Get("Origin")
		require.NoError(t, r.ParseMultipartForm(1<<20))

		src, hdr, err := r.FormFile(SourceField)
		require.NoError(t, err)
		gotSourceName = hdr.Filename
		gotSource, _ = io.ReadAll(src)

		tgt, tgtHdr, err := r.FormFile(TargetField)
		require.NoError(t, err)
		gotTargetName = tgtHdr.Filename
		gotTarget, _ = io.ReadAll(tgt)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"image": "data:image/png;base64,AAAA"}`))
	}))
	defer srv.Close()

	res, err := NewTransformClient(srv.URL+"/api/kirkify", time.Second).Submit(t.Context(), []byte("source"), []byte("target"))
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", res.Image)
	assert.Equal(t, []byte("source"), gotSource)
	assert.Equal(t, []byte("target"), gotTarget)
	assert.Equal(t, "source.png", gotSourceName)
	assert.Equal(t, "campania.png", gotTargetName)
	assert.Equal(t, srv.URL, gotOrigin)
}

func TestTransformClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("server error"))
	}))
	defer srv.Close()

	_, err := NewTransformClient(srv.URL, time.Second).Submit(t.Context(), []byte("s"), []byte("t"))
	require.ErrorIs(t, err, domain.ErrUpstream)

	var upstreamErr *domain.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusInternalServerError, upstreamErr.StatusCode)
	assert.Equal(t, "server error", upstreamErr.Body)
}

func TestTransformClientUpstreamErrorBodyBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	_, err := NewTransformClient(srv.URL, time.Second).Submit(t.Context(), []byte("s"), []byte("t"))

	var upstreamErr *domain.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Len(t, upstreamErr.Body, maxErrorBody)
}

func TestTransformClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewTransformClient(url, time.Second).Submit(t.Context(), []byte("s"), []byte("t"))
	require.ErrorIs(t, err, domain.ErrRequestFailed)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
}

func TestTransformClientBinaryResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG-bytes"))
	}))
	defer srv.Close()

	res, err := NewTransformClient(srv.URL, time.Second).Submit(t.Context(), []byte("s"), []byte("t"))
	require.NoError(t, err)

	decoded, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG-bytes"), decoded)
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://kirkify.wtf", originOf(DefaultTransformURL))
	assert.Equal(t, "", originOf("not a url"))
}
