package domain

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{name: "missing", query: "", want: DefaultSize},
		{name: "other params only", query: "webhook_url=x", want: DefaultSize},
		{name: "lower bound", query: "size=1", want: 1},
		{name: "upper bound", query: "size=1024", want: 1024},
		{name: "padded", query: "size=+300+", want: 300},
		{name: "present but empty", query: "size=", wantErr: true},
		{name: "present but blank", query: "size=%20", wantErr: true},
		{name: "bare key", query: "size", wantErr: true},
		{name: "zero", query: "size=0", wantErr: true},
		{name: "too large", query: "size=2000", wantErr: true},
		{name: "negative", query: "size=-5", wantErr: true},
		{name: "not a number", query: "size=big", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			query, err := url.ParseQuery(tc.query)
			require.NoError(t, err)

			got, err := ParseSize(query)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidSize)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRenderRequestValidate(t *testing.T) {
	require.NoError(t, RenderRequest{Size: 248}.Validate())
	require.NoError(t, RenderRequest{Size: 248, WebhookURL: "https://example.com/hook"}.Validate())
	require.ErrorIs(t, RenderRequest{Size: 0}.Validate(), ErrInvalidSize)

	err := RenderRequest{Size: 248, WebhookURL: "not a url"}.Validate()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSize)
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: fmt.Errorf("%w: dial tcp", ErrDownload), want: FailureDownload},
		{err: fmt.Errorf("wrap: %w", ErrSave), want: FailureSave},
		{err: &UpstreamError{StatusCode: 500, Body: "server error"}, want: FailureUpstream},
		{err: fmt.Errorf("transform: %w", &UpstreamError{StatusCode: 503}), want: FailureUpstream},
		{err: ErrMalformedResponse, want: FailureMalformed},
		{err: ErrUnexpectedResponse, want: FailureUnexpected},
		{err: ErrRequestFailed, want: FailureRequest},
		{err: ErrNoImage, want: FailureNoImage},
		{err: errors.New("boom"), want: FailureInternal},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, FailureKind(tc.err))
	}
}

func TestUpstreamErrorAs(t *testing.T) {
	err := fmt.Errorf("submit: %w", &UpstreamError{StatusCode: 500, Body: "server error"})

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, 500, upstreamErr.StatusCode)
	assert.Equal(t, "server error", upstreamErr.Body)
	assert.ErrorIs(t, err, ErrUpstream)
}
