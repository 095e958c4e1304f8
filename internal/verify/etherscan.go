package verify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/clauselens/clauselens/internal/types"
)

// DefaultEtherscanURL is the multichain Etherscan endpoint.
const DefaultEtherscanURL = "https://api.etherscan.io/v2/api"

// Etherscan is an Explorer backed by an Etherscan-compatible HTTP API.
type Etherscan struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// EtherscanOption configures the client.
type EtherscanOption func(*Etherscan)

// WithBaseURL points the client at another Etherscan-compatible API.
func WithBaseURL(u string) EtherscanOption { return func(e *Etherscan) { e.baseURL = u } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) EtherscanOption { return func(e *Etherscan) { e.client = c } }

// WithRateLimit caps requests per second; the free tier allows 5.
func WithRateLimit(perSecond float64) EtherscanOption {
	return func(e *Etherscan) { e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// NewEtherscan returns a client using apiKey.
func NewEtherscan(apiKey string, opts ...EtherscanOption) *Etherscan {
	e := &Etherscan{
		baseURL: DefaultEtherscanURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(5, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *Etherscan) get(ctx context.Context, chainID string, params url.Values) (json.RawMessage, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("chainid", chainID)
	if e.apiKey != "" {
		params.Set("apikey", e.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &types.TransientToolError{Tool: "etherscan", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &types.TransientToolError{Tool: "etherscan", Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &types.TransientToolError{Tool: "etherscan", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("etherscan: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("etherscan: malformed response: %w", err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("etherscan: %s", env.Error.Message)
	}
	if env.Status == "0" {
		var msg string
		_ = json.Unmarshal(env.Result, &msg)
		if strings.Contains(strings.ToLower(msg), "rate limit") {
			return nil, &types.TransientToolError{Tool: "etherscan", Err: errors.New(msg)}
		}
		if msg == "" {
			msg = env.Message
		}
		return nil, fmt.Errorf("etherscan: %s", msg)
	}
	return env.Result, nil
}

type sourceResult struct {
	SourceCode      string `json:"SourceCode"`
	ABI             string `json:"ABI"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
}

// SourceCode implements Explorer.
func (e *Etherscan) SourceCode(ctx context.Context, chainID, address string) (*SourceInfo, error) {
	raw, err := e.get(ctx, chainID, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	})
	if err != nil {
		return nil, err
	}
	var results []sourceResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("etherscan: decode getsourcecode: %w", err)
	}
	if len(results) == 0 || results[0].SourceCode == "" {
		return nil, nil
	}
	r := results[0]
	files, err := splitSources(r.ContractName, r.SourceCode)
	if err != nil {
		return nil, err
	}
	info := &SourceInfo{
		ContractName:    r.ContractName,
		CompilerVersion: r.CompilerVersion,
		Files:           files,
	}
	if strings.HasPrefix(strings.TrimSpace(r.ABI), "[") {
		info.ABI = r.ABI
	}
	return info, nil
}

// splitSources decodes the three SourceCode shapes Etherscan returns: a flat
// file, a path-to-content map, or standard JSON input wrapped in braces.
func splitSources(name, code string) (map[string]string, error) {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "{") {
		return map[string]string{name + ".sol": code}, nil
	}
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	type file struct {
		Content string `json:"content"`
	}
	var std struct {
		Sources map[string]file `json:"sources"`
	}
	if err := json.Unmarshal([]byte(trimmed), &std); err == nil && len(std.Sources) > 0 {
		out := make(map[string]string, len(std.Sources))
		for p, f := range std.Sources {
			out[p] = f.Content
		}
		return out, nil
	}
	var flat map[string]file
	if err := json.Unmarshal([]byte(trimmed), &flat); err != nil {
		return nil, fmt.Errorf("etherscan: decode multi-file source: %w", err)
	}
	out := make(map[string]string, len(flat))
	for p, f := range flat {
		out[p] = f.Content
	}
	return out, nil
}

func (e *Etherscan) proxyHex(ctx context.Context, chainID string, params url.Values) ([]byte, error) {
	params.Set("module", "proxy")
	params.Set("tag", "latest")
	raw, err := e.get(ctx, chainID, params)
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("etherscan: decode %s: %w", params.Get("action"), err)
	}
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// Code implements Explorer.
func (e *Etherscan) Code(ctx context.Context, chainID, address string) ([]byte, error) {
	return e.proxyHex(ctx, chainID, url.Values{"action": {"eth_getCode"}, "address": {address}})
}

// StorageAt implements Explorer.
func (e *Etherscan) StorageAt(ctx context.Context, chainID, address, slot string) ([]byte, error) {
	return e.proxyHex(ctx, chainID, url.Values{"action": {"eth_getStorageAt"}, "address": {address}, "position": {slot}})
}

// Call implements Explorer.
func (e *Etherscan) Call(ctx context.Context, chainID, address string, data []byte) ([]byte, error) {
	return e.proxyHex(ctx, chainID, url.Values{"action": {"eth_call"}, "to": {address}, "data": {"0x" + hex.EncodeToString(data)}})
}
