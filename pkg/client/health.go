package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
)

// Health calls /healthz.
func (c *Client) Health(ctx context.Context) (*Liveness, error) {
	var l Liveness
	if err := c.get(ctx, "/healthz", &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Ready calls /readyz once. A not-ready server is reported through the
// returned Readiness, not as an error.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	var r Readiness
	err := c.do(ctx, http.MethodGet, "/readyz", nil, &r, false)
	var apiErr *APIError
	if stderrors.As(err, &apiErr) && apiErr.IsUnavailable() {
		r = Readiness{Status: "not_ready"}
		// The probe body carries no error code, so it arrives as the message.
		_ = json.Unmarshal([]byte(apiErr.Message), &r)
		return &r, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
