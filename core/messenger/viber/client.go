package viber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/m3rciful/botengine/core/logger"
	"github.com/m3rciful/botengine/core/netutil"
)

const (
	defaultBaseURL = "https://chatapi.viber.com/pa"
	authHeader     = "X-Viber-Auth-Token"

	statusOK            = 0
	statusNotSubscribed = 6
)

// APIError is a non-zero status returned by the REST API.
type APIError struct {
	Method  string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("viber %s failed with status: %d, message: %s", e.Method, e.Status, e.Message)
}

type statusResponse struct {
	Status        int    `json:"status"`
	StatusMessage string `json:"status_message"`
}

type client struct {
	http    *http.Client
	baseURL string
	token   string
}

// call posts req to the API method and decodes the reply into resp, which
// must embed statusResponse fields.
func (c *client) call(ctx context.Context, method string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(authHeader, c.token)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", method, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("viber %s: %w", method, &netutil.StatusError{Code: httpResp.StatusCode, Body: logger.SanitizeLimit(strings.TrimSpace(string(data)), 256)})
	}

	var status statusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if status.Status != statusOK {
		return &APIError{Method: method, Status: status.Status, Message: status.StatusMessage}
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}
