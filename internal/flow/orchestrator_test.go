package flow

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bww-labs/souqbot/internal/catalog"
	"github.com/bww-labs/souqbot/internal/genai"
	"github.com/bww-labs/souqbot/internal/messaging"
	"github.com/bww-labs/souqbot/internal/models"
	"github.com/bww-labs/souqbot/internal/store"
)

const testUser = "201234567890"

type scriptStep struct {
	response string
	err      error
}

// scriptedGenerator plays back canned model responses in call order.
type scriptedGenerator struct {
	script  []scriptStep
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	i := len(g.prompts) - 1
	if i >= len(g.script) {
		return "", nil
	}
	return g.script[i].response, g.script[i].err
}

func (g *scriptedGenerator) Model() string { return "test-model" }

func (g *scriptedGenerator) calls() int { return len(g.prompts) }

func testCatalog() *catalog.InMemoryCatalog {
	return catalog.NewInMemoryCatalog(
		catalog.InMemoryProduct{
			Candidate: models.ProductCandidate{ID: 10, DisplayName: "قميص قطن", Price: 250, Stock: 5},
			Fields:    catalog.SearchFields{NameAr: "قميص قطن", NameEn: "cotton shirt"},
		},
		catalog.InMemoryProduct{
			Candidate: models.ProductCandidate{ID: 20, DisplayName: "قميص حرير", Price: 900, Stock: 2},
			Fields:    catalog.SearchFields{NameAr: "قميص حرير", NameEn: "silk shirt"},
			Context: &models.ProductContext{
				Product: models.ProductDetail{ID: 20, DisplayName: "قميص حرير", Price: 900, Stock: 2},
			},
		},
		catalog.InMemoryProduct{
			Candidate: models.ProductCandidate{ID: 30, DisplayName: "قميص كتان", Price: 400, Stock: 1},
			Fields:    catalog.SearchFields{NameAr: "قميص كتان", NameEn: "linen shirt"},
		},
	)
}

func newTestOrchestrator(gen genai.Generator) (*Orchestrator, *store.InMemoryStore, *messaging.MockSender) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	o := NewOrchestrator(st, testCatalog(), genai.NewGateway(gen), sender)
	return o, st, sender
}

// seedPresented opens a conversation and records a prior presentation of
// ids [10 20 30], returning the conversation id.
func seedPresented(t *testing.T, st *store.InMemoryStore) int64 {
	t.Helper()
	convID, err := st.OpenOrCreateConversation(testUser)
	if err != nil {
		t.Fatalf("open conversation failed: %v", err)
	}
	state := models.ConversationState{
		LastPresentedCandidateIDs: []int64{10, 20, 30},
		LastPresentedCandidates: []models.CandidateSummary{
			{ID: 10, DisplayName: "قميص قطن", Price: 250, Stock: 5},
			{ID: 20, DisplayName: "قميص حرير", Price: 900, Stock: 2},
			{ID: 30, DisplayName: "قميص كتان", Price: 400, Stock: 1},
		},
	}
	if err := st.SetState(convID, state); err != nil {
		t.Fatalf("seed state failed: %v", err)
	}
	return convID
}

func mustState(t *testing.T, st *store.InMemoryStore, convID int64) models.ConversationState {
	t.Helper()
	state, err := st.GetState(convID)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	return state
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	gen := &scriptedGenerator{}
	o, st, sender := newTestOrchestrator(gen)

	convID, _ := st.OpenOrCreateConversation(testUser)
	if _, err := st.AppendMessage(convID, models.RoleUser, models.DirectionInbound, "hi", "wamid.dup"); err != nil {
		t.Fatalf("seed message failed: %v", err)
	}
	before := st.MessageCount()

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "wamid.dup", Type: "text", Text: "hi",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if st.MessageCount() != before {
		t.Error("duplicate delivery must not add message rows")
	}
	if len(sender.Sent) != 0 {
		t.Error("duplicate delivery must not send")
	}
	if gen.calls() != 0 {
		t.Error("duplicate delivery must not call the model")
	}
}

func TestConversationReuseWithinTTL(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{response: `{"intent":"general_question","keywords":[]}`},
		{response: "اهلا بيك"},
		{response: `{"intent":"general_question","keywords":[]}`},
		{response: "تحت امرك"},
	}}
	o, st, _ := newTestOrchestrator(gen)

	if err := o.ProcessTurn(context.Background(), Inbound{From: testUser, ProviderMessageID: "m1", Type: "text", Text: "مرحبا بيكم"}); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	first, err := st.GetOpenConversation(testUser)
	if err != nil || first == nil {
		t.Fatalf("no open conversation after first turn: %v", err)
	}

	if err := o.ProcessTurn(context.Background(), Inbound{From: testUser, ProviderMessageID: "m2", Type: "text", Text: "سؤال كمان"}); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	second, err := st.GetOpenConversation(testUser)
	if err != nil || second == nil {
		t.Fatalf("no open conversation after second turn: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("conversation not reused within TTL: %d then %d", first.ID, second.ID)
	}
}

func TestPositionalSelectionScenario(t *testing.T) {
	// User sends "2" after seeing [10 20 30]: resolves to id 20 with no
	// selection model call; the single call is the grounded answer.
	gen := &scriptedGenerator{script: []scriptStep{
		{response: "القميص الحرير سعره 900 ومتوفر."},
	}}
	o, st, sender := newTestOrchestrator(gen)
	convID := seedPresented(t, st)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "2",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if gen.calls() != 1 {
		t.Fatalf("model calls = %d, want exactly 1 (grounded answer only)", gen.calls())
	}
	if !strings.Contains(gen.prompts[0], "قميص حرير") || !strings.Contains(gen.prompts[0], "id=20") {
		t.Error("answer prompt should be grounded in product 20's context")
	}

	state := mustState(t, st, convID)
	if state.SelectedProductID != 20 {
		t.Errorf("SelectedProductID = %d, want 20", state.SelectedProductID)
	}
	if state.HasPresented() {
		t.Error("presented list should be cleared after selection")
	}
	last := sender.LastSent()
	if last == nil || last.Body != "القميص الحرير سعره 900 ومتوفر." {
		t.Errorf("outbound reply = %+v", last)
	}
}

func TestOrdinalSelectionNoModelCallForSelection(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{response: "تمام"},
	}}
	o, st, _ := newTestOrchestrator(gen)
	convID := seedPresented(t, st)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "عايز الاخير",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	// "الاخير" resolves positionally to id 30; the only model call is the
	// grounded answer, never a selection call.
	if gen.calls() != 1 {
		t.Fatalf("model calls = %d, want 1", gen.calls())
	}
	if !strings.Contains(gen.prompts[0], "id=30") {
		t.Error("answer prompt should be grounded in product 30's context")
	}
	if state := mustState(t, st, convID); state.SelectedProductID != 30 {
		t.Errorf("SelectedProductID = %d, want 30", state.SelectedProductID)
	}
}

func TestSelectionNotFoundReprompts(t *testing.T) {
	gen := &scriptedGenerator{}
	o, st, sender := newTestOrchestrator(gen)
	convID := seedPresented(t, st)

	// id 10 exists in the catalog without a seeded context, so GetContext
	// falls back to a synthesized one; use an id missing entirely instead.
	state := mustState(t, st, convID)
	state.LastPresentedCandidateIDs = []int64{7777}
	state.LastPresentedCandidates = []models.CandidateSummary{{ID: 7777, DisplayName: "قديم"}}
	if err := st.SetState(convID, state); err != nil {
		t.Fatalf("seed state failed: %v", err)
	}

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "1",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	last := sender.LastSent()
	if last == nil || last.Body != ReselectReply {
		t.Errorf("reply = %+v, want fixed re-prompt", last)
	}
	if got := mustState(t, st, convID); got.SelectedProductID != 0 {
		t.Errorf("SelectedProductID = %d, want unset", got.SelectedProductID)
	}
}

func TestModelSelectionOutsideSetFallsThrough(t *testing.T) {
	// A selection-looking message whose model pick is outside the presented
	// set must never surface that id; the turn degrades to a fresh search.
	gen := &scriptedGenerator{script: []scriptStep{
		{response: `{"selected_id": 999}`},
		{response: `{"intent":"general_question","keywords":[]}`},
		{response: "ممكن توضحلي انت بتدور على ايه؟"},
	}}
	o, st, sender := newTestOrchestrator(gen)
	convID := seedPresented(t, st)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text",
		// Long enough to miss the positional parser, marker word keeps it
		// selection-looking.
		Text: "انا قصدي المنتج اللي انت عرضته عليا قبل كده يعني ده بالظبط",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	state := mustState(t, st, convID)
	if state.SelectedProductID != 0 {
		t.Errorf("SelectedProductID = %d, hallucinated id must never be surfaced", state.SelectedProductID)
	}
	if sender.LastSent() == nil {
		t.Error("fall-through search flow should still reply")
	}
}

func TestSearchFlowPresentsRerankedCandidates(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{response: `{"intent":"product_search","keywords":["قميص"]}`},
		{response: `{"reply":"عندنا 1 قطن و2 حرير و3 كتان","presented_ids":[30, 20, 10]}`},
	}}
	o, st, sender := newTestOrchestrator(gen)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "عندكم قمصان؟",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	conv, _ := st.GetOpenConversation(testUser)
	state := mustState(t, st, conv.ID)
	if !reflect.DeepEqual(state.LastPresentedCandidateIDs, []int64{30, 20, 10}) {
		t.Errorf("presented ids = %v", state.LastPresentedCandidateIDs)
	}
	if len(state.LastPresentedCandidates) != 3 || state.LastPresentedCandidates[1].ID != 20 {
		t.Errorf("presented summaries misaligned: %+v", state.LastPresentedCandidates)
	}
	if sender.LastSent().Body != "عندنا 1 قطن و2 حرير و3 كتان" {
		t.Errorf("reply = %q", sender.LastSent().Body)
	}
}

func TestSearchFlowEmptyRerankFallsBackToNumberedList(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{response: `{"intent":"product_search","keywords":["قميص"]}`},
		{response: "sorry, I cannot produce JSON today"},
	}}
	o, st, sender := newTestOrchestrator(gen)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "عندكم قمصان؟",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	body := sender.LastSent().Body
	if !strings.Contains(body, "1.") || !strings.Contains(body, "2.") || !strings.Contains(body, "3.") {
		t.Errorf("fallback reply should be a numbered list, got %q", body)
	}
	conv, _ := st.GetOpenConversation(testUser)
	state := mustState(t, st, conv.ID)
	if len(state.LastPresentedCandidateIDs) != 3 {
		t.Errorf("presented ids = %v, want top 3", state.LastPresentedCandidateIDs)
	}
}

func TestSearchFlowNoResultsAsksClarifyingQuestion(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{response: `{"intent":"product_search","keywords":["طياره"]}`},
		{response: "للاسف مش لاقي حاجة بالاسم ده، ممكن توصفهولي اكتر؟"},
	}}
	o, st, sender := newTestOrchestrator(gen)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "عندكم طيارات؟",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if gen.calls() != 2 {
		t.Errorf("model calls = %d, want intent parse + history-grounded answer", gen.calls())
	}
	if !strings.Contains(sender.LastSent().Body, "ممكن توصفهولي") {
		t.Errorf("reply = %q", sender.LastSent().Body)
	}
	conv, _ := st.GetOpenConversation(testUser)
	if state := mustState(t, st, conv.ID); state.HasPresented() {
		t.Error("no candidates were shown, presented state must stay empty")
	}
}

func TestNonTextMessageFixedReply(t *testing.T) {
	gen := &scriptedGenerator{}
	o, st, sender := newTestOrchestrator(gen)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "image",
	})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if gen.calls() != 0 {
		t.Error("non-text message must not call the model")
	}
	last := sender.LastSent()
	if last == nil || last.Body != NonTextReply {
		t.Errorf("reply = %+v, want fixed clarification", last)
	}
	// Placeholder inbound plus the fixed outbound.
	if st.MessageCount() != 2 {
		t.Errorf("message rows = %d, want 2", st.MessageCount())
	}
}

func TestEmptyTextMessageFixedReply(t *testing.T) {
	gen := &scriptedGenerator{}
	o, st, sender := newTestOrchestrator(gen)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "   ",
	})
	if err != nil {
		t.Fatalf("empty text should be handled, got %v", err)
	}
	if gen.calls() != 0 {
		t.Error("empty text must not call the model")
	}
	last := sender.LastSent()
	if last == nil || last.Body != NonTextReply {
		t.Errorf("reply = %+v, want fixed clarification", last)
	}
	if st.MessageCount() != 2 {
		t.Errorf("message rows = %d, want 2", st.MessageCount())
	}

	// The placeholder row carries the provider id, so a redelivery is dropped.
	if err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "   ",
	}); err != nil {
		t.Fatalf("redelivery should be dropped, got %v", err)
	}
	if st.MessageCount() != 2 || len(sender.Sent) != 1 {
		t.Errorf("redelivery must not add rows or sends: rows=%d sends=%d", st.MessageCount(), len(sender.Sent))
	}
}

func TestRateLimitAbortsTurnWithWaitHint(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{err: &genai.RateLimitError{RetryAfter: 10 * time.Second}},
	}}
	o, st, sender := newTestOrchestrator(gen)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "عندكم قمصان؟",
	})
	if err != nil {
		t.Fatalf("rate limit should be handled, got %v", err)
	}
	last := sender.LastSent()
	if last == nil || !strings.Contains(last.Body, "11") {
		t.Errorf("reply = %+v, want ceil+1 wait hint of 11 seconds", last)
	}
	conv, _ := st.GetOpenConversation(testUser)
	if state := mustState(t, st, conv.ID); state.HasPresented() {
		t.Error("rate-limited turn must not persist presented state")
	}
}

func TestRateLimitDuringSelectionKeepsPresentedState(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{err: &genai.RateLimitError{}},
	}}
	o, st, sender := newTestOrchestrator(gen)
	convID := seedPresented(t, st)

	err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text",
		Text: "انا قصدي المنتج اللي انت عرضته عليا قبل كده يعني ده بالظبط",
	})
	if err != nil {
		t.Fatalf("rate limit should be handled, got %v", err)
	}
	if sender.LastSent().Body != RateLimitReplyNoHint {
		t.Errorf("reply = %q", sender.LastSent().Body)
	}
	state := mustState(t, st, convID)
	if !reflect.DeepEqual(state.LastPresentedCandidateIDs, []int64{10, 20, 30}) {
		t.Errorf("presented ids mutated on aborted turn: %v", state.LastPresentedCandidateIDs)
	}
}

func TestSearchFlowDeterministicReplay(t *testing.T) {
	script := []scriptStep{
		{response: `{"intent":"product_search","keywords":["قميص"]}`},
		{response: `{"reply":"اتفضل الاختيارات","presented_ids":[20, 10]}`},
	}
	run := func(t *testing.T) []int64 {
		t.Helper()
		gen := &scriptedGenerator{script: script}
		o, st, _ := newTestOrchestrator(gen)
		err := o.ProcessTurn(context.Background(), Inbound{
			From: testUser, ProviderMessageID: "m1", Type: "text", Text: "عندكم قمصان؟",
		})
		if err != nil {
			t.Fatalf("ProcessTurn failed: %v", err)
		}
		conv, _ := st.GetOpenConversation(testUser)
		return mustState(t, st, conv.ID).LastPresentedCandidateIDs
	}

	first := run(t)
	second := run(t)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay diverged: %v then %v", first, second)
	}
}

func TestTurnAuditTrail(t *testing.T) {
	gen := &scriptedGenerator{script: []scriptStep{
		{response: `{"intent":"product_search","keywords":["قميص"]}`},
		{response: `{"reply":"اتفضل","presented_ids":[10]}`},
	}}
	o, st, _ := newTestOrchestrator(gen)

	if err := o.ProcessTurn(context.Background(), Inbound{
		From: testUser, ProviderMessageID: "m1", Type: "text", Text: "عندكم قمصان؟",
	}); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	conv, _ := st.GetOpenConversation(testUser)
	call, err := st.LastAICall(conv.ID)
	if err != nil || call == nil {
		t.Fatalf("no AI call logged: %v", err)
	}
	if call.Model != "test-model" || call.CorrelationID == "" {
		t.Errorf("AI call record incomplete: %+v", call)
	}

	events, err := st.EventsByCorrelation(call.CorrelationID, 50)
	if err != nil {
		t.Fatalf("events lookup failed: %v", err)
	}
	types := make(map[string]bool, len(events))
	for _, e := range events {
		types[e.EventType] = true
	}
	for _, want := range []string{"turn_started", "intent_parsed", "catalog_searched", "candidates_presented", "reply_sent"} {
		if !types[want] {
			t.Errorf("missing audit event %q in %v", want, types)
		}
	}
}
