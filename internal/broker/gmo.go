// Package broker implements the GMO Coin FX private REST client used for
// live order placement. Requests are signed with HMAC-SHA256 over
// timestamp + method + path + body.
package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultTimeout = 10 * time.Second

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gmo api status %d: %s", e.Code, e.Body)
}

// HTTPStatus exposes the code for retry classification.
func (e *StatusError) HTTPStatus() int { return e.Code }

// Client calls the GMO private API. Calls are serialised upstream by the
// order dispatcher; the client itself is stateless.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  []byte
	httpClient *http.Client
	now        func() time.Time
}

// New creates a client for baseURL (e.g. https://forex-api.coin.z.com).
func New(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c.apiKey != "" && len(c.apiSecret) > 0
}

// CreateMarketOrder places a speed (market) order. Size is rendered as a
// whole number of units, as the FX API expects.
func (c *Client) CreateMarketOrder(ctx context.Context, symbol, side string, size float64) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"symbol":        symbol,
		"side":          side,
		"size":          strconv.FormatFloat(size, 'f', 0, 64),
		"clientOrderId": newClientOrderID(),
		"isHedgeable":   false,
	}
	return c.request(ctx, http.MethodPost, "/v1/speedOrder", payload)
}

// CloseMarketOrder closes an open position at market (FAK).
func (c *Client) CloseMarketOrder(ctx context.Context, symbol, side string, size float64) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"symbol":        symbol,
		"side":          side,
		"executionType": "MARKET",
		"timeInForce":   "FAK",
		"size":          strconv.FormatFloat(size, 'f', 0, 64),
	}
	return c.request(ctx, http.MethodPost, "/v1/closeOrder", payload)
}

// request signs and sends one API call. The signature covers the path
// without the /private prefix, which is how the API verifies it.
func (c *Client) request(ctx context.Context, method, path string, payload interface{}) (map[string]interface{}, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10) + "000"
	signature := sign(c.apiSecret, timestamp, method, path, string(body))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/private"+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("API-KEY", c.apiKey)
	req.Header.Set("API-TIMESTAMP", timestamp)
	req.Header.Set("API-SIGN", signature)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmo api request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[broker] %s %s -> %d: %s", method, path, resp.StatusCode, raw)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !successStatus(data["status"]) {
		log.Printf("[broker] non-success status: %s", raw)
	}
	return data, nil
}

// successStatus accepts the status spellings the API has been seen to
// use; an absent field also counts as success.
func successStatus(status interface{}) bool {
	switch v := status.(type) {
	case nil:
		return true
	case string:
		return v == "0" || v == "success" || v == "SUCCESS"
	case float64:
		return v == 0
	case json.Number:
		return v.String() == "0"
	}
	return false
}

func sign(secret []byte, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + strings.ToUpper(method) + path + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// newClientOrderID builds the 20-char order tag: a fixed prefix plus a
// uuid-derived suffix.
func newClientOrderID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "AURAFX" + id[:14]
}
