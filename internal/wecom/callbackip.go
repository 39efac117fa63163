package wecom

import (
	"context"
	"net/http"
)

// CallbackIPs returns the addresses the vendor sends callbacks from.
func (c *Client) CallbackIPs(ctx context.Context, appID string) ([]string, error) {
	var out struct {
		IPList []string `json:"ip_list"`
	}
	if err := c.Do(ctx, appID, Request{Endpoint: "getcallbackip", Method: http.MethodGet}, &out); err != nil {
		return nil, err
	}
	return out.IPList, nil
}
