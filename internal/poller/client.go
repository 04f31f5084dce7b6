package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/convert"
	"github.com/MimeLyc/webp-autogen/internal/i18n"
	"github.com/MimeLyc/webp-autogen/internal/library"
)

const (
	actionConvertedCount = "webp_autogen_get_converted_count"
	actionConvertBatch   = "webp_autogen_convert_batch"
)

// HTTPClient calls the ajax endpoint of a running server.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient targets baseURL (e.g. "http://localhost:8080"). token is sent
// as a bearer token when not empty.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *HTTPClient) ConvertBatch(ctx context.Context) (convert.BatchResult, error) {
	var res convert.BatchResult
	err := c.get(ctx, actionConvertBatch, &res)
	return res, err
}

// Stats reads the converted count. Remaining is derived from the totals.
func (c *HTTPClient) Stats(ctx context.Context) (library.Stats, error) {
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := c.get(ctx, actionConvertedCount, &envelope); err != nil {
		return library.Stats{}, err
	}
	if !envelope.Success {
		return library.Stats{}, fmt.Errorf("%s %s", i18n.MsgStatusFailed, string(envelope.Data))
	}

	var counts struct {
		Converted int `json:"converted"`
		Total     int `json:"total"`
	}
	if err := json.Unmarshal(envelope.Data, &counts); err != nil {
		return library.Stats{}, fmt.Errorf("decode status: %w", err)
	}
	return library.Stats{
		Total:     counts.Total,
		Converted: counts.Converted,
		Remaining: counts.Total - counts.Converted,
	}, nil
}

func (c *HTTPClient) get(ctx context.Context, action string, out any) error {
	endpoint := c.baseURL + "/ajax?action=" + url.QueryEscape(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s %s", i18n.MsgNetwork, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}
