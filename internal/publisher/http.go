package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBody = 1 << 20

type httpResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// postJSON sends payload as JSON and returns the raw response. Transport
// failures come back classified; HTTP error statuses are left to the caller.
func postJSON(ctx context.Context, client *http.Client, platform, url string, headers map[string]string, payload any) (*httpResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, PermanentError(platform, "encode_payload", fmt.Sprintf("error marshalling payload: %v", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, ConfigurationError(platform, "bad_request_url", fmt.Sprintf("error creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, platform, req)
}

func getJSON(ctx context.Context, client *http.Client, platform, url string, headers map[string]string) (*httpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ConfigurationError(platform, "bad_request_url", fmt.Sprintf("error creating request: %v", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, platform, req)
}

func do(client *http.Client, platform string, req *http.Request) (*httpResponse, error) {
	resp, err := client.Do(req)
	if err != nil {
		e := Classify(err)
		e.Platform = platform
		return nil, e
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, TransientError(platform, "read_response", fmt.Sprintf("error reading response body: %v", err))
	}
	return &httpResponse{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (r *httpResponse) ok() bool {
	return r.Status >= 200 && r.Status < 300
}
