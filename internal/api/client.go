package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TokenSource 提供当前的访问令牌。空字符串表示未登录（不是错误），
// 此时请求不携带Authorization头，由服务端返回401。
type TokenSource interface {
	AccessToken() string
}

// StaticToken 固定令牌（测试和演示用）
type StaticToken string

func (t StaticToken) AccessToken() string { return string(t) }

// APIError 服务端或传输层错误。传输层失败时Status为0。
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unauthorized 是否为401类失败（需要强制重新登录）
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// Envelope 统一响应信封
type Envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody 服务端错误体
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ClientConfig API客户端配置
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	KeepAlive       bool
	UserAgent       string
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(baseURL string) *ClientConfig {
	return &ClientConfig{
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		MaxIdleConns:    10,
		MaxConnsPerHost: 5,
		KeepAlive:       true,
		UserAgent:       "GoLocShare/1.0",
	}
}

// Client 位置共享服务的HTTP API客户端。本层不做重试，
// 所有恢复动作由上层的用户手动操作触发。
type Client struct {
	config *ClientConfig
	http   *http.Client
	tokens TokenSource
}

// New 创建API客户端
func New(config *ClientConfig, tokens TokenSource) *Client {
	if config == nil {
		panic("config cannot be nil")
	}

	transport := &http.Transport{
		MaxIdleConns:    config.MaxIdleConns,
		MaxConnsPerHost: config.MaxConnsPerHost,
		IdleConnTimeout: 90 * time.Second,
	}
	if !config.KeepAlive {
		transport.DisableKeepAlives = true
	}

	return &Client{
		config: config,
		http: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		tokens: tokens,
	}
}

// Get 发起GET请求并返回信封中的data部分
func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post 发起JSON POST请求并返回信封中的data部分
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}) (json.RawMessage, error) {
	fullURL := c.config.BaseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Code: "encode_error", Message: err.Error()}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, &APIError{Code: "invalid_request", Message: err.Error()}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Code: "transport_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Code: "transport_error", Message: err.Error()}
	}

	var envelope Envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &envelope); err != nil && resp.StatusCode < 400 {
			return nil, &APIError{
				Status:  resp.StatusCode,
				Code:    "decode_error",
				Message: err.Error(),
			}
		}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "server_error", Message: http.StatusText(resp.StatusCode)}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return nil, apiErr
	}

	return envelope.Data, nil
}
