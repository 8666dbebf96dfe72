// Package client is a Go client for the Kadali REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rzbill/kadali/pkg/api/rest"
	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/types"
)

// DefaultAddress is where kadalid listens by default.
const DefaultAddress = "http://localhost:7070"

// ClientOptions holds configuration options for the API client.
type ClientOptions struct {
	// Address of the API server, e.g. http://localhost:7070
	Address string

	// Token is sent as a bearer API key when set
	Token string

	// TenantID is sent as the X-Tenant-ID header on every request
	TenantID string

	// Timeout for a single call
	CallTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests
	HTTPClient *http.Client

	// Logger
	Logger log.Logger
}

// DefaultClientOptions returns the default client options.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		Address:     DefaultAddress,
		CallTimeout: 5 * time.Minute,
		Logger:      log.GetDefaultLogger().WithComponent("api-client"),
	}
}

// Client provides a client for interacting with the Kadali API server.
type Client struct {
	options *ClientOptions
	http    *http.Client
	logger  log.Logger
}

// NewClient creates a new API client with the given options.
func NewClient(options *ClientOptions) (*Client, error) {
	if options == nil {
		options = DefaultClientOptions()
	}
	if options.Address == "" {
		options.Address = DefaultAddress
	}
	if !strings.HasPrefix(options.Address, "http://") && !strings.HasPrefix(options.Address, "https://") {
		options.Address = "http://" + options.Address
	}
	options.Address = strings.TrimRight(options.Address, "/")

	logger := options.Logger
	if logger == nil {
		logger = log.GetDefaultLogger().WithComponent("api-client")
	}

	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.CallTimeout}
	}

	return &Client{
		options: options,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// APIError is a non-2xx response from the server. It matches the corresponding
// types error class through errors.Is.
type APIError struct {
	StatusCode int
	Code       string
	Message    string

	// Cluster is the record the failed operation left behind, if any
	Cluster *types.Cluster
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Is maps server error codes back onto the error taxonomy.
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case rest.CodeNotFound:
		return target == types.ErrNotFound
	case rest.CodeInvalidArgument:
		return target == types.ErrInvalidArgument
	case rest.CodeInvalidTransition:
		return target == types.ErrInvalidTransition
	case rest.CodeProvisionFailed:
		return target == types.ErrProvision
	case rest.CodeStorage:
		return target == types.ErrStorage
	}
	return false
}

// do sends a request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.options.Address+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.options.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.options.Token)
	}
	if c.options.TenantID != "" {
		req.Header.Set(rest.TenantHeader, c.options.TenantID)
	}

	c.logger.Debug("API request", log.Str("method", method), log.Str("path", path))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach API server at %s: %w", c.options.Address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body rest.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		apiErr.Cluster = body.Cluster
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}
