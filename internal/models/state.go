// Package models defines conversation state structures for souqbot flows.
package models

import "encoding/json"

// Recognized conversation state keys. Anything else in the stored blob is
// carried through Extra untouched.
const (
	stateKeyPresentedIDs = "last_presented_candidate_ids"
	stateKeyPresented    = "last_presented_candidates"
	stateKeySelectedID   = "selected_product_id"
)

// ConversationState is the per-conversation session blob driving the dialogue
// state machine. LastPresentedCandidates, when present, is index-aligned 1..N
// with LastPresentedCandidateIDs: index i in user-facing language means
// element i-1 here.
//
// Unrecognized keys from the stored document are preserved in Extra and
// written back verbatim, so other writers of the blob are not clobbered.
type ConversationState struct {
	LastPresentedCandidateIDs []int64
	LastPresentedCandidates   []CandidateSummary
	SelectedProductID         int64

	Extra map[string]json.RawMessage
}

// HasPresented reports whether a prior candidate presentation is on record.
func (s *ConversationState) HasPresented() bool {
	return len(s.LastPresentedCandidateIDs) > 0
}

// ClearPresented drops the presented-candidate lists, keeping everything else.
func (s *ConversationState) ClearPresented() {
	s.LastPresentedCandidateIDs = nil
	s.LastPresentedCandidates = nil
}

// PresentedIndex returns the candidate id at 1-based index i, or 0 when out
// of range.
func (s *ConversationState) PresentedIndex(i int) int64 {
	if i < 1 || i > len(s.LastPresentedCandidateIDs) {
		return 0
	}
	return s.LastPresentedCandidateIDs[i-1]
}

// MarshalJSON emits the recognized keys only when set, then folds in Extra.
func (s ConversationState) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}
	if len(s.LastPresentedCandidateIDs) > 0 {
		b, err := json.Marshal(s.LastPresentedCandidateIDs)
		if err != nil {
			return nil, err
		}
		out[stateKeyPresentedIDs] = b
	}
	if len(s.LastPresentedCandidates) > 0 {
		b, err := json.Marshal(s.LastPresentedCandidates)
		if err != nil {
			return nil, err
		}
		out[stateKeyPresented] = b
	}
	if s.SelectedProductID != 0 {
		b, err := json.Marshal(s.SelectedProductID)
		if err != nil {
			return nil, err
		}
		out[stateKeySelectedID] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON pulls the recognized keys and stashes the rest in Extra.
func (s *ConversationState) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ConversationState{}
	for k, v := range raw {
		switch k {
		case stateKeyPresentedIDs:
			if err := json.Unmarshal(v, &s.LastPresentedCandidateIDs); err != nil {
				return err
			}
		case stateKeyPresented:
			if err := json.Unmarshal(v, &s.LastPresentedCandidates); err != nil {
				return err
			}
		case stateKeySelectedID:
			if err := json.Unmarshal(v, &s.SelectedProductID); err != nil {
				return err
			}
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]json.RawMessage)
			}
			s.Extra[k] = v
		}
	}
	return nil
}
