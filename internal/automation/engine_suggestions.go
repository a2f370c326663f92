package automation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/homeflow/internal/device"
)

// RequestSuggestions asks the suggestion service for candidate automations
// and stores them as drafts in the inbox. Drafts that would not validate
// against the current devices are kept with Problem set.
func (e *Engine) RequestSuggestions(ctx context.Context, text string) ([]Suggestion, error) {
	if e.suggester == nil {
		return nil, fmt.Errorf("%w: no suggestion service configured", ErrSuggestionService)
	}
	text = truncateContext(strings.TrimSpace(text), maxContextLength)

	snap := e.devices.Snapshot()
	req := SuggestionRequest{Context: text}
	for _, d := range snap.Devices() {
		req.Devices = append(req.Devices, DeviceSummary{
			ID:     d.ID,
			Name:   d.Name,
			RoomID: d.RoomID,
			Type:   string(d.Type),
			Status: device.StatusMap(d.Status),
		})
	}

	resp, err := e.suggester.Suggest(ctx, req)
	if err != nil {
		e.logger.Warn("suggestion request failed", "error", err)
		return nil, err
	}

	var drafts []*Suggestion
	for i := range resp.Rules {
		r := resp.Rules[i].DeepCopy()
		s := &Suggestion{Kind: KindRule, Rule: r, Rationale: resp.Rationale}
		if err := ValidateRule(r, snap); err != nil {
			s.Problem = err.Error()
		}
		drafts = append(drafts, s)
	}
	for i := range resp.Routines {
		rt := resp.Routines[i].DeepCopy()
		s := &Suggestion{Kind: KindRoutine, Routine: rt, Rationale: resp.Rationale}
		if err := ValidateRoutine(rt, snap); err != nil {
			s.Problem = err.Error()
		}
		drafts = append(drafts, s)
	}
	for i := range resp.Scenarios {
		sc := resp.Scenarios[i].DeepCopy()
		s := &Suggestion{Kind: KindScenario, Scenario: sc, Rationale: resp.Rationale}
		if err := ValidateScenario(sc, snap); err != nil {
			s.Problem = err.Error()
		}
		drafts = append(drafts, s)
	}
	if len(drafts) > maxSuggestionsPerRequest {
		e.logger.Warn("suggestion response truncated", "received", len(drafts), "kept", maxSuggestionsPerRequest)
		drafts = drafts[:maxSuggestionsPerRequest]
	}

	out := make([]Suggestion, 0, len(drafts))
	for _, s := range drafts {
		out = append(out, e.inbox.Add(s))
	}
	e.logger.Info("suggestions received", "count", len(out))
	return out, nil
}

// Suggestions lists the drafts waiting in the inbox.
func (e *Engine) Suggestions() []Suggestion {
	return e.inbox.List()
}

// GetSuggestion returns one draft.
func (e *Engine) GetSuggestion(id string) (Suggestion, error) {
	return e.inbox.Get(id)
}

// AcceptSuggestion validates a draft and persists it as an enabled,
// AI-suggested automation. On failure the draft stays in the inbox.
func (e *Engine) AcceptSuggestion(ctx context.Context, id string) (Suggestion, error) {
	s, err := e.inbox.Take(id)
	if err != nil {
		return Suggestion{}, err
	}
	orig := s

	switch s.Kind {
	case KindRule:
		r := s.Rule.DeepCopy()
		r.ID = ""
		r.IsEnabled = true
		r.IsUserDefined = false
		r.IsAISuggested = true
		r.Stats = Stats{}
		err = e.CreateRule(ctx, r)
		s.Rule = r
	case KindRoutine:
		rt := s.Routine.DeepCopy()
		rt.ID = ""
		rt.IsEnabled = true
		rt.IsUserDefined = false
		rt.IsAISuggested = true
		rt.Stats = Stats{}
		err = e.CreateRoutine(ctx, rt)
		s.Routine = rt
	case KindScenario:
		sc := s.Scenario.DeepCopy()
		sc.ID = ""
		sc.IsUserDefined = false
		sc.IsAISuggested = true
		sc.Stats = Stats{}
		err = e.CreateScenario(ctx, sc)
		s.Scenario = sc
	default:
		err = fmt.Errorf("%w: unknown suggestion kind %q", ErrInvalidRuleDefinition, s.Kind)
	}

	if err != nil {
		e.inbox.Put(orig)
		return Suggestion{}, err
	}

	e.logger.Info("suggestion accepted", "suggestion_id", id, "kind", string(s.Kind), "name", s.Name())
	return s, nil
}

// RejectSuggestion drops a draft.
func (e *Engine) RejectSuggestion(id string) error {
	if err := e.inbox.Remove(id); err != nil {
		return err
	}
	e.logger.Info("suggestion rejected", "suggestion_id", id)
	return nil
}

// truncateContext cuts s to at most n bytes without splitting a rune.
func truncateContext(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
