package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Suggestion limits.
const (
	defaultSuggestionTTL     = 24 * time.Hour
	maxSuggestionsPerRequest = 20
	maxSuggestionBody        = 1 << 20
	maxContextLength         = 2000
)

// SuggestionRequest is sent to the external suggestion service.
type SuggestionRequest struct {
	Context string          `json:"context"`
	Devices []DeviceSummary `json:"devices"`
}

// DeviceSummary describes one device to the suggestion service.
type DeviceSummary struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	RoomID string         `json:"room_id"`
	Type   string         `json:"type"`
	Status map[string]any `json:"status"`
}

// SuggestionResponse is the service's answer: candidate automations plus a
// free-text rationale.
type SuggestionResponse struct {
	Rules     []Rule     `json:"rules"`
	Routines  []Routine  `json:"routines"`
	Scenarios []Scenario `json:"scenarios"`
	Rationale string     `json:"rationale"`
}

// SuggestionService generates candidate automations from a natural-language
// context. Its output is untrusted.
type SuggestionService interface {
	Suggest(ctx context.Context, req SuggestionRequest) (*SuggestionResponse, error)
}

// HTTPSuggestionClient calls a suggestion service over HTTP. The service
// receives a SuggestionRequest as a JSON POST body and answers with a
// SuggestionResponse.
type HTTPSuggestionClient struct {
	url    string
	client *http.Client
}

// NewHTTPSuggestionClient creates a client for the service at url.
func NewHTTPSuggestionClient(url string, timeout time.Duration) *HTTPSuggestionClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSuggestionClient{url: url, client: &http.Client{Timeout: timeout}}
}

// Suggest posts req to the service and decodes its answer.
func (c *HTTPSuggestionClient) Suggest(ctx context.Context, req SuggestionRequest) (*SuggestionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling suggestion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSuggestionService, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSuggestionService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSuggestionService, resp.StatusCode)
	}

	var out SuggestionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSuggestionBody)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrSuggestionService, err)
	}
	return &out, nil
}

// Suggestion is a draft held in the inbox until accepted, rejected or
// expired. Exactly one of Rule, Routine and Scenario is set. Drafts never
// execute.
type Suggestion struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Rule      *Rule     `json:"rule,omitempty"`
	Routine   *Routine  `json:"routine,omitempty"`
	Scenario  *Scenario `json:"scenario,omitempty"`
	Rationale string    `json:"rationale,omitempty"`

	// Problem explains why the draft would fail validation today.
	Problem string `json:"problem,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Name returns the name of the drafted automation.
func (s *Suggestion) Name() string {
	switch {
	case s.Rule != nil:
		return s.Rule.Name
	case s.Routine != nil:
		return s.Routine.Name
	case s.Scenario != nil:
		return s.Scenario.Name
	}
	return ""
}

func (s *Suggestion) deepCopy() Suggestion {
	cpy := *s
	cpy.Rule = s.Rule.DeepCopy()
	cpy.Routine = s.Routine.DeepCopy()
	cpy.Scenario = s.Scenario.DeepCopy()
	return cpy
}

// Inbox holds suggestion drafts for a limited time.
//
// Thread Safety: all methods are safe for concurrent use.
type Inbox struct {
	ttl   time.Duration
	clock clock.Clock

	mu    sync.Mutex
	items map[string]*Suggestion
}

// NewInbox creates an inbox whose drafts expire after ttl.
func NewInbox(ttl time.Duration, clk clock.Clock) *Inbox {
	if ttl <= 0 {
		ttl = defaultSuggestionTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Inbox{ttl: ttl, clock: clk, items: make(map[string]*Suggestion)}
}

// Add stores a draft, assigning its ID and expiry.
func (in *Inbox) Add(s *Suggestion) Suggestion {
	now := in.clock.Now().UTC()
	s.ID = GenerateID()
	s.CreatedAt = now
	s.ExpiresAt = now.Add(in.ttl)

	in.mu.Lock()
	defer in.mu.Unlock()
	in.items[s.ID] = s
	return s.deepCopy()
}

// Get returns a copy of an unexpired draft.
func (in *Inbox) Get(id string) (Suggestion, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pruneLocked()
	s, ok := in.items[id]
	if !ok {
		return Suggestion{}, fmt.Errorf("%w: %s", ErrSuggestionNotFound, id)
	}
	return s.deepCopy(), nil
}

// Take removes and returns an unexpired draft.
func (in *Inbox) Take(id string) (Suggestion, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pruneLocked()
	s, ok := in.items[id]
	if !ok {
		return Suggestion{}, fmt.Errorf("%w: %s", ErrSuggestionNotFound, id)
	}
	delete(in.items, id)
	return s.deepCopy(), nil
}

// Put returns a previously taken draft to the inbox, keeping its expiry.
func (in *Inbox) Put(s Suggestion) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.clock.Now().Before(s.ExpiresAt) {
		return
	}
	cpy := s.deepCopy()
	in.items[s.ID] = &cpy
}

// Remove deletes a draft.
func (in *Inbox) Remove(id string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pruneLocked()
	if _, ok := in.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSuggestionNotFound, id)
	}
	delete(in.items, id)
	return nil
}

// List returns unexpired drafts, oldest first.
func (in *Inbox) List() []Suggestion {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pruneLocked()
	out := make([]Suggestion, 0, len(in.items))
	for _, s := range in.items {
		out = append(out, s.deepCopy())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of unexpired drafts.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pruneLocked()
	return len(in.items)
}

func (in *Inbox) pruneLocked() {
	now := in.clock.Now()
	for id, s := range in.items {
		if !now.Before(s.ExpiresAt) {
			delete(in.items, id)
		}
	}
}
