package cardsignal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/pokercoach/pkg/poker"
)

const defaultTimeout = 2 * time.Second

// stateResponse mirrors GET /api/state of the card-vision service. Only the
// fields the coach consumes are decoded.
type stateResponse struct {
	HoleCards     []string `json:"hole_cards"`
	FlopCards     []string `json:"flop_cards"`
	TurnCard      *string  `json:"turn_card"`
	RiverCard     *string  `json:"river_card"`
	EquityPreflop *float64 `json:"equity_preflop"`
	EquityFlop    *float64 `json:"equity_flop"`
	EquityTurn    *float64 `json:"equity_turn"`
	EquityRiver   *float64 `json:"equity_river"`
	Pot           *struct {
		PotBeforeCall  *float64 `json:"pot_before_call"`
		ToCall         *float64 `json:"to_call"`
		Recommendation string   `json:"recommendation"`
		SuggestedRaise *float64 `json:"suggested_raise"`
	} `json:"pot"`
}

func (r stateResponse) snapshot() Snapshot {
	s := Snapshot{
		HoleCards:     r.HoleCards,
		FlopCards:     r.FlopCards,
		EquityPreflop: r.EquityPreflop,
		EquityFlop:    r.EquityFlop,
		EquityTurn:    r.EquityTurn,
		EquityRiver:   r.EquityRiver,
	}
	if r.TurnCard != nil {
		s.TurnCard = *r.TurnCard
	}
	if r.RiverCard != nil {
		s.RiverCard = *r.RiverCard
	}
	if r.Pot != nil {
		s.PotBeforeCall = r.Pot.PotBeforeCall
		s.ToCall = r.Pot.ToCall
		s.SuggestedRaise = r.Pot.SuggestedRaise
		if m := poker.OptimalMove(strings.ToLower(r.Pot.Recommendation)); m.IsValid() {
			s.Recommendation = m
		}
	}
	return s
}

// HTTPSource polls the card-vision service.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

var _ Source = (*HTTPSource)(nil)

// HTTPOption configures an [HTTPSource].
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// NewHTTPSource returns a source reading baseURL + "/api/state".
func NewHTTPSource(baseURL string, opts ...HTTPOption) (*HTTPSource, error) {
	if baseURL == "" {
		return nil, errors.New("cardsignal: base URL must not be empty")
	}
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Snapshot implements [Source].
func (s *HTTPSource) Snapshot(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/state", nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cardsignal: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cardsignal: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("cardsignal: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Snapshot{}, fmt.Errorf("cardsignal: decode response: %w", err)
	}
	return sr.snapshot(), nil
}

// Manual is a [Source] whose cards are entered by hand. It is used when no
// vision service is configured. Equity is never reported, so the advice
// fallback decides with unknown equity.
type Manual struct {
	mu   sync.RWMutex
	snap Snapshot
}

var _ Source = (*Manual)(nil)

// Snapshot implements [Source].
func (m *Manual) Snapshot(context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snap
	s.HoleCards = append([]string(nil), m.snap.HoleCards...)
	s.FlopCards = append([]string(nil), m.snap.FlopCards...)
	return s, nil
}

// Set replaces the manual snapshot after validating every non-empty card.
func (m *Manual) Set(s Snapshot) error {
	cards := append(append([]string{}, s.HoleCards...), s.FlopCards...)
	cards = append(cards, s.TurnCard, s.RiverCard)
	for _, c := range cards {
		if c == "" {
			continue
		}
		if _, err := ParseCard(c); err != nil {
			return err
		}
	}
	if len(s.HoleCards) > 2 {
		return fmt.Errorf("cardsignal: at most 2 hole cards, got %d", len(s.HoleCards))
	}
	if len(s.FlopCards) > 3 {
		return fmt.Errorf("cardsignal: at most 3 flop cards, got %d", len(s.FlopCards))
	}
	m.mu.Lock()
	m.snap = s
	m.mu.Unlock()
	return nil
}

// Clear forgets every card, as at the start of a new hand.
func (m *Manual) Clear() {
	m.mu.Lock()
	m.snap = Snapshot{}
	m.mu.Unlock()
}
