package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/odatalink/odatalink/internal/util"
	log "github.com/sirupsen/logrus"
)

// HTTPClient is the default Client backed by net/http.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a client with the given per-request timeout, routed
// through proxyURL when it is set.
func NewHTTPClient(proxyURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: util.SetProxy(proxyURL, &http.Client{Timeout: timeout})}
}

// NewHTTPClientFrom wraps an existing *http.Client.
func NewHTTPClientFrom(client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{client: client}
}

// SendRequest executes req and returns the decoded response.
func (c *HTTPClient) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("response body close error: %v", errClose)
		}
	}()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	header := httpResp.Header.Clone()
	decoded, changed, err := decodeBody(header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, err
	}
	if changed {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: header, Body: decoded}, nil
}

// decodeBody reverses a Content-Encoding. Unknown encodings are returned unchanged
// and reported as not decoded.
func decodeBody(contentEncoding string, data []byte) ([]byte, bool, error) {
	if len(data) == 0 {
		return data, false, nil
	}
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, false, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() {
			_ = gz.Close()
		}()
		reader = gz
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(data))
		defer func() {
			_ = fr.Close()
		}()
		reader = fr
	case "br":
		reader = brotli.NewReader(bytes.NewReader(data))
	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, false, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer decoder.Close()
		reader = decoder
	default:
		return data, false, nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode %s body: %w", contentEncoding, err)
	}
	return decoded, true, nil
}
