package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
)

const (
	DefaultTransformURL = "https://kirkify.wtf/api/kirkify"

	SourceField = "source-image"
	TargetField = "target-image"

	sourceFilename = "source.png"
	targetFilename = "campania.png"

	maxErrorBody    = 2000
	maxResponseBody = 64 << 20
)

// TransformClient submits a source/target pair to the transformation
// endpoint and normalizes whatever comes back.
type TransformClient struct {
	httpClient *http.Client
	url        string
}

func NewTransformClient(url string, timeout time.Duration) *TransformClient {
	if url == "" {
		url = DefaultTransformURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TransformClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
	}
}

func (c *TransformClient) Submit(ctx context.Context, source, target []byte) (domain.Result, error) {
	body, contentType, err := buildMultipart(source, target)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: build multipart body: %v", domain.ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: build request: %v", domain.ErrRequestFailed, err)
	}
	setTransformHeaders(req.Header, c.url)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: read body: %v", domain.ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Result{}, &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       truncate(payload, maxErrorBody),
		}
	}

	return Classify(resp.Header.Get("Content-Type"), payload)
}

func buildMultipart(source, target []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	if err := writeImagePart(writer, SourceField, sourceFilename, source); err != nil {
		return nil, "", err
	}
	if err := writeImagePart(writer, TargetField, targetFilename, target); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func writeImagePart(writer *multipart.Writer, field, filename string, data []byte) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	header.Set("Content-Type", "image/png")

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}
