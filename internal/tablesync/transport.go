package tablesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

// Rejection codes returned by the table service alongside the error text.
const (
	CodeNotYourTurn   = "not_your_turn"
	CodeInvalidAction = "invalid_action"
)

// ActionRequest is the body of an action submission.
type ActionRequest struct {
	Seat         int          `json:"seat"`
	Action       poker.Action `json:"action"`
	Amount       float64      `json:"amount"`
	IsHeroActing bool         `json:"is_hero_acting"`
}

// ActionResponse is the table service's answer to an action or reset.
type ActionResponse struct {
	OK    bool              `json:"ok"`
	State *poker.TableState `json:"state,omitempty"`
	Error string            `json:"error,omitempty"`
	Code  string            `json:"code,omitempty"`
}

// Transport talks to the authoritative table service. Transport failures
// wrap [ErrNetworkUnavailable]; rejections are returned as *[RejectedError].
type Transport interface {
	State(ctx context.Context) (poker.TableState, error)
	Action(ctx context.Context, req ActionRequest) (poker.TableState, error)
	Reset(ctx context.Context, numPlayers int) (poker.TableState, error)
}

// HTTPTransport implements [Transport] against the JSON table API.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// HTTPOption configures an [HTTPTransport].
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default HTTP client (5 s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// NewHTTPTransport returns a transport for the table service at baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) (*HTTPTransport, error) {
	if baseURL == "" {
		return nil, errors.New("tablesync: base URL must not be empty")
	}
	t := &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// State implements [Transport].
func (t *HTTPTransport) State(ctx context.Context) (poker.TableState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/table/state", nil)
	if err != nil {
		return poker.TableState{}, fmt.Errorf("tablesync: create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return poker.TableState{}, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return poker.TableState{}, fmt.Errorf("%w: HTTP %d: %s", ErrNetworkUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var st poker.TableState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return poker.TableState{}, fmt.Errorf("tablesync: decode state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return poker.TableState{}, fmt.Errorf("tablesync: %w", err)
	}
	return st, nil
}

// Action implements [Transport].
func (t *HTTPTransport) Action(ctx context.Context, req ActionRequest) (poker.TableState, error) {
	return t.post(ctx, "/api/table/action", req)
}

// Reset implements [Transport].
func (t *HTTPTransport) Reset(ctx context.Context, numPlayers int) (poker.TableState, error) {
	return t.post(ctx, "/api/table/reset", map[string]int{"num_players": numPlayers})
}

func (t *HTTPTransport) post(ctx context.Context, path string, v any) (poker.TableState, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return poker.TableState{}, fmt.Errorf("tablesync: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return poker.TableState{}, fmt.Errorf("tablesync: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return poker.TableState{}, fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	var ar ActionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ar); err != nil {
		if resp.StatusCode/100 != 2 {
			return poker.TableState{}, fmt.Errorf("%w: HTTP %d", ErrNetworkUnavailable, resp.StatusCode)
		}
		return poker.TableState{}, fmt.Errorf("tablesync: decode response: %w", err)
	}
	if !ar.OK {
		return poker.TableState{}, rejection(ar)
	}
	if ar.State == nil {
		return poker.TableState{}, errors.New("tablesync: response carries no state")
	}
	if err := ar.State.Validate(); err != nil {
		return poker.TableState{}, fmt.Errorf("tablesync: %w", err)
	}
	return *ar.State, nil
}

// rejection classifies a negative response. Services that predate the code
// field are classified by their text.
func rejection(ar ActionResponse) *RejectedError {
	reason := ar.Error
	if reason == "" {
		reason = "action rejected"
	}
	kind := ErrInvalidAction
	switch ar.Code {
	case CodeNotYourTurn:
		kind = ErrNotYourTurn
	case CodeInvalidAction:
	default:
		if strings.Contains(strings.ToLower(reason), "turn") {
			kind = ErrNotYourTurn
		}
	}
	return &RejectedError{Kind: kind, Reason: reason}
}
