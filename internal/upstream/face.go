package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
)

const DefaultFaceURL = "https://thispersondoesnotexist.com/"

// FaceClient downloads one randomly generated face per call.
type FaceClient struct {
	httpClient *http.Client
	url        string
}

func NewFaceClient(url string, timeout time.Duration) *FaceClient {
	if url == "" {
		url = DefaultFaceURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FaceClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
	}
}

func (c *FaceClient) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrDownload, err)
	}
	setDownloadHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrDownload, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrDownload, err)
	}
	return data, nil
}
