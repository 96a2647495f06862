// Package remote provides an HTTP client for the FinTrack backend REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/dto"
	"fintrack/internal/log"

	"github.com/google/uuid"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// Client talks to the backend. Every call takes the bearer token explicitly;
// an empty token sends no Authorization header.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. A nil httpClient gets a pooled default
// with the given timeout.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(timeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// NewHTTPClient creates an HTTP client with connection pooling, keep-alive
// and request logging.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: &log.Transport{Base: transport, Component: log.ComponentRemote},
		Timeout:   timeout,
	}
}

// envelope is the backend's response wrapper. Different endpoints put the
// payload under different keys; all of them are accepted.
type envelope struct {
	Success      *bool           `json:"success"`
	Message      string          `json:"message"`
	Error        string          `json:"error"`
	Count        *int            `json:"count"`
	Data         json.RawMessage `json:"data"`
	Transactions json.RawMessage `json:"transactions"`
	Transaction  json.RawMessage `json:"transaction"`
	Budgets      json.RawMessage `json:"budgets"`
	Budget       json.RawMessage `json:"budget"`
	Categories   json.RawMessage `json:"categories"`
	Category     json.RawMessage `json:"category"`
	User         json.RawMessage `json:"user"`
}

func (e envelope) payload() json.RawMessage {
	for _, raw := range []json.RawMessage{e.Data, e.Transactions, e.Transaction, e.Budgets, e.Budget, e.Categories, e.Category, e.User} {
		if len(raw) > 0 && string(raw) != "null" {
			return raw
		}
	}
	return nil
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// do sends a JSON request and returns the raw response body of a 2xx answer.
func (c *Client) do(ctx context.Context, op, method, path, token string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("remote %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.RemoteTransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &core.RemoteTransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := &core.RemoteProtocolError{Op: op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.message() != "" {
			pe.Message = env.message()
		}
		return nil, pe
	}
	return raw, nil
}

// decodeEnvelope unpacks a 2xx body. A top-level array is accepted as the payload.
func decodeEnvelope(op string, raw []byte) (envelope, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return envelope{}, nil, nil
	}
	if trimmed[0] == '[' {
		return envelope{}, trimmed, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return envelope{}, nil, &core.RemoteProtocolError{Op: op, Message: "undecodable response", Err: err}
	}
	if env.Success != nil && !*env.Success {
		msg := env.message()
		if msg == "" {
			msg = "request not successful"
		}
		return env, nil, &core.RemoteProtocolError{Op: op, Message: msg}
	}
	return env, env.payload(), nil
}

func decodeInto[T any](op string, raw []byte) (T, *int, error) {
	var out T
	env, payload, err := decodeEnvelope(op, raw)
	if err != nil {
		return out, nil, err
	}
	if payload == nil {
		return out, env.Count, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, nil, &core.RemoteProtocolError{Op: op, Message: "undecodable payload", Err: err}
	}
	return out, env.Count, nil
}

func pathID(prefix, id string) string {
	return prefix + "/" + url.PathEscape(id)
}

// Transactions

func (c *Client) ListTransactions(ctx context.Context, token string) ([]dto.TransactionDTO, error) {
	raw, err := c.do(ctx, "list transactions", http.MethodGet, "/transactions", token, nil)
	if err != nil {
		return nil, err
	}
	items, _, err := decodeInto[[]dto.TransactionDTO]("list transactions", raw)
	return items, err
}

func (c *Client) CreateTransaction(ctx context.Context, token string, t dto.TransactionDTO) (dto.TransactionDTO, error) {
	raw, err := c.do(ctx, "create transaction", http.MethodPost, "/transactions", token, t)
	if err != nil {
		return dto.TransactionDTO{}, err
	}
	out, _, err := decodeInto[dto.TransactionDTO]("create transaction", raw)
	return out, err
}

func (c *Client) UpdateTransaction(ctx context.Context, token, serverID string, t dto.TransactionDTO) (dto.TransactionDTO, error) {
	raw, err := c.do(ctx, "update transaction", http.MethodPut, pathID("/transactions", serverID), token, t)
	if err != nil {
		return dto.TransactionDTO{}, err
	}
	out, _, err := decodeInto[dto.TransactionDTO]("update transaction", raw)
	return out, err
}

func (c *Client) DeleteTransaction(ctx context.Context, token, serverID string) error {
	raw, err := c.do(ctx, "delete transaction", http.MethodDelete, pathID("/transactions", serverID), token, nil)
	if err != nil {
		return err
	}
	_, _, err = decodeEnvelope("delete transaction", raw)
	return err
}

// SyncTransactions uploads a batch to the bulk endpoint and returns the
// count the backend reports (or the number of records it echoed back).
func (c *Client) SyncTransactions(ctx context.Context, token string, items []dto.TransactionDTO) (int, error) {
	if items == nil {
		items = []dto.TransactionDTO{}
	}
	raw, err := c.do(ctx, "sync transactions", http.MethodPost, "/transactions/sync", token, items)
	if err != nil {
		return 0, err
	}
	echoed, count, err := decodeInto[[]dto.TransactionDTO]("sync transactions", raw)
	if err != nil {
		return 0, err
	}
	if count != nil {
		return *count, nil
	}
	return len(echoed), nil
}

// Budgets

func (c *Client) ListBudgets(ctx context.Context, token string) ([]dto.BudgetDTO, error) {
	raw, err := c.do(ctx, "list budgets", http.MethodGet, "/budgets", token, nil)
	if err != nil {
		return nil, err
	}
	items, _, err := decodeInto[[]dto.BudgetDTO]("list budgets", raw)
	return items, err
}

func (c *Client) CreateBudget(ctx context.Context, token string, b dto.BudgetDTO) (dto.BudgetDTO, error) {
	raw, err := c.do(ctx, "create budget", http.MethodPost, "/budgets", token, b)
	if err != nil {
		return dto.BudgetDTO{}, err
	}
	out, _, err := decodeInto[dto.BudgetDTO]("create budget", raw)
	return out, err
}

func (c *Client) UpdateBudget(ctx context.Context, token, serverID string, b dto.BudgetDTO) (dto.BudgetDTO, error) {
	raw, err := c.do(ctx, "update budget", http.MethodPut, pathID("/budgets", serverID), token, b)
	if err != nil {
		return dto.BudgetDTO{}, err
	}
	out, _, err := decodeInto[dto.BudgetDTO]("update budget", raw)
	return out, err
}

func (c *Client) DeleteBudget(ctx context.Context, token, serverID string) error {
	raw, err := c.do(ctx, "delete budget", http.MethodDelete, pathID("/budgets", serverID), token, nil)
	if err != nil {
		return err
	}
	_, _, err = decodeEnvelope("delete budget", raw)
	return err
}

// Categories

func (c *Client) ListCategories(ctx context.Context, token string) ([]dto.CategoryDTO, error) {
	raw, err := c.do(ctx, "list categories", http.MethodGet, "/categories", token, nil)
	if err != nil {
		return nil, err
	}
	items, _, err := decodeInto[[]dto.CategoryDTO]("list categories", raw)
	return items, err
}

func (c *Client) CreateCategory(ctx context.Context, token string, cat dto.CategoryDTO) (dto.CategoryDTO, error) {
	raw, err := c.do(ctx, "create category", http.MethodPost, "/categories", token, cat)
	if err != nil {
		return dto.CategoryDTO{}, err
	}
	out, _, err := decodeInto[dto.CategoryDTO]("create category", raw)
	return out, err
}

func (c *Client) DeleteCategory(ctx context.Context, token, serverID string) error {
	raw, err := c.do(ctx, "delete category", http.MethodDelete, pathID("/categories", serverID), token, nil)
	if err != nil {
		return err
	}
	_, _, err = decodeEnvelope("delete category", raw)
	return err
}

// Auth

func (c *Client) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	return c.auth(ctx, "login", "/auth/login", req)
}

func (c *Client) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	return c.auth(ctx, "register", "/auth/register", req)
}

func (c *Client) auth(ctx context.Context, op, path string, body any) (dto.AuthResponse, error) {
	raw, err := c.do(ctx, op, http.MethodPost, path, "", body)
	if err != nil {
		return dto.AuthResponse{}, err
	}
	var out dto.AuthResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return dto.AuthResponse{}, &core.RemoteProtocolError{Op: op, Message: "undecodable auth response", Err: err}
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "authentication failed"
		}
		return out, &core.RemoteProtocolError{Op: op, Message: msg}
	}
	if out.Token == "" {
		return out, &core.RemoteProtocolError{Op: op, Message: "auth response without token"}
	}
	return out, nil
}

// Me returns the profile bound to token.
func (c *Client) Me(ctx context.Context, token string) (dto.UserDTO, error) {
	raw, err := c.do(ctx, "me", http.MethodGet, "/auth/me", token, nil)
	if err != nil {
		return dto.UserDTO{}, err
	}
	u, _, err := decodeInto[dto.UserDTO]("me", raw)
	return u, err
}
