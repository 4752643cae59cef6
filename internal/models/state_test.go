package models

import (
	"encoding/json"
	"testing"
)

func TestConversationStateRoundTrip(t *testing.T) {
	st := ConversationState{
		LastPresentedCandidateIDs: []int64{10, 20, 30},
		LastPresentedCandidates: []CandidateSummary{
			{ID: 10, DisplayName: "تيشيرت احمر", Price: 250, Stock: 4},
			{ID: 20, DisplayName: "تيشيرت ازرق", Price: 270, Stock: 1},
			{ID: 30, DisplayName: "تيشيرت اسود", Price: 260, Stock: 9},
		},
		SelectedProductID: 20,
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got ConversationState
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.LastPresentedCandidateIDs) != 3 || got.LastPresentedCandidateIDs[1] != 20 {
		t.Errorf("presented ids lost: %v", got.LastPresentedCandidateIDs)
	}
	if len(got.LastPresentedCandidates) != 3 || got.LastPresentedCandidates[2].DisplayName != "تيشيرت اسود" {
		t.Errorf("presented summaries lost: %+v", got.LastPresentedCandidates)
	}
	if got.SelectedProductID != 20 {
		t.Errorf("selected id lost: %d", got.SelectedProductID)
	}
}

func TestConversationStatePreservesUnknownKeys(t *testing.T) {
	blob := `{"selected_product_id":7,"agent_notes":{"vip":true},"legacy_flag":"x"}`

	var st ConversationState
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.SelectedProductID != 7 {
		t.Errorf("expected selected_product_id 7, got %d", st.SelectedProductID)
	}
	if len(st.Extra) != 2 {
		t.Fatalf("expected 2 passthrough keys, got %d", len(st.Extra))
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if _, ok := out["agent_notes"]; !ok {
		t.Error("agent_notes dropped on round trip")
	}
	if string(out["legacy_flag"]) != `"x"` {
		t.Errorf("legacy_flag mangled: %s", out["legacy_flag"])
	}
}

func TestConversationStateEmptyOmitsRecognizedKeys(t *testing.T) {
	data, err := json.Marshal(ConversationState{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("expected {}, got %s", data)
	}
}

func TestPresentedIndex(t *testing.T) {
	st := ConversationState{LastPresentedCandidateIDs: []int64{10, 20, 30}}
	cases := []struct {
		idx  int
		want int64
	}{
		{1, 10}, {2, 20}, {3, 30}, {0, 0}, {4, 0}, {-1, 0},
	}
	for _, c := range cases {
		if got := st.PresentedIndex(c.idx); got != c.want {
			t.Errorf("PresentedIndex(%d) = %d, want %d", c.idx, got, c.want)
		}
	}
}

func TestWebhookFirstMessage(t *testing.T) {
	raw := `{"entry":[{"changes":[{"value":{"messages":[{"from":"2010000000","id":"wamid.X1","type":"text","text":{"body":"عايز تيشيرت"}}]}}]}]}`
	var p WebhookPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg := p.FirstMessage()
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.From != "2010000000" || msg.ID != "wamid.X1" || msg.Text.Body != "عايز تيشيرت" {
		t.Errorf("unexpected message: %+v", msg)
	}

	var empty WebhookPayload
	if empty.FirstMessage() != nil {
		t.Error("expected nil for empty payload")
	}
}
