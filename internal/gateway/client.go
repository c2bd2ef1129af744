// Package gateway is the client for the external messaging provider. The
// provider is treated as one opaque operation: send one rendered message to
// one destination, with a bounded timeout and a classified outcome.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

type SendRequest struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaRef string `json:"mediaRef,omitempty"`
}

type SendResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Send posts one message. A non-2xx response or transport error comes back
// as a *SendError carrying the classification.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	payload, _ := json.Marshal(req)

	baseURL := strings.TrimRight(c.BaseURL, "/")
	endpoint := baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResponse{}, &SendError{Class: ClassSendError, Message: err.Error(), cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendResponse{}, &SendError{Class: Classify(err, 0, ""), Message: err.Error(), cause: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = "provider send failed"
		}
		return out, &SendError{
			Class:      Classify(nil, resp.StatusCode, out.Code),
			Message:    msg,
			HTTPStatus: resp.StatusCode,
		}
	}
	return out, nil
}
