package genai

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bww-labs/souqbot/internal/models"
)

// fakeGenerator returns canned responses in order, recording prompts.
type fakeGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeGenerator) Model() string { return "fake-model" }

func TestAnswerGroundedPromptCarriesContext(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"المنتج متوفر"}}
	gw := NewGateway(gen)

	pc := &models.ProductContext{
		Product: models.ProductDetail{ID: 20, DisplayName: "قميص حرير", Price: 900, Stock: 2},
	}
	reply, exchange, err := gw.Answer(context.Background(), AnswerRequest{
		Text:    "ايه تفاصيله؟",
		Context: pc,
		History: []models.StoredMessage{{Role: models.RoleUser, Text: "عايز قميص"}},
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if reply != "المنتج متوفر" {
		t.Errorf("reply = %q", reply)
	}
	if exchange.Model != "fake-model" || exchange.Response == "" {
		t.Errorf("exchange not populated: %+v", exchange)
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "قميص حرير") || !strings.Contains(prompt, "id=20") {
		t.Error("grounded prompt missing product context")
	}
	if !strings.Contains(prompt, "عايز قميص") {
		t.Error("grounded prompt missing history")
	}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     IntentResult
	}{
		{
			name:     "well formed",
			response: `{"intent":"product_search","keywords":["احمر","قميص"]}`,
			want:     IntentResult{Intent: "product_search", Keywords: []string{"احمر", "قميص"}},
		},
		{
			name:     "fenced",
			response: "```json\n{\"intent\":\"general_question\",\"keywords\":[]}\n```",
			want:     IntentResult{Intent: "general_question"},
		},
		{
			name:     "malformed degrades to defaults",
			response: "مش فاهم قصدك",
			want:     IntentResult{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewGateway(&fakeGenerator{responses: []string{tt.response}})
			got, _, err := gw.ParseIntent(context.Background(), "عايز قميص احمر", nil)
			if err != nil {
				t.Fatalf("ParseIntent failed: %v", err)
			}
			if got.Intent != tt.want.Intent || !reflect.DeepEqual(got.Keywords, tt.want.Keywords) {
				t.Errorf("ParseIntent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseIntentCapsKeywords(t *testing.T) {
	many := make([]string, 0, MaxIntentKeywords+5)
	for i := 0; i < MaxIntentKeywords+5; i++ {
		many = append(many, `"k`+strings.Repeat("x", i+1)+`"`)
	}
	response := `{"intent":"product_search","keywords":[` + strings.Join(many, ",") + `]}`
	gw := NewGateway(&fakeGenerator{responses: []string{response}})
	got, _, err := gw.ParseIntent(context.Background(), "بحث", nil)
	if err != nil {
		t.Fatalf("ParseIntent failed: %v", err)
	}
	if len(got.Keywords) != MaxIntentKeywords {
		t.Errorf("keywords = %d, want cap %d", len(got.Keywords), MaxIntentKeywords)
	}
}

func TestRerankDropsHallucinatedIDs(t *testing.T) {
	candidates := []models.ProductCandidate{
		{ID: 10, DisplayName: "قميص قطن"},
		{ID: 20, DisplayName: "قميص حرير"},
	}
	gw := NewGateway(&fakeGenerator{responses: []string{
		`{"reply":"عندنا الاختيارات دي","presented_ids":[10, 999, 20]}`,
	}})
	got, _, err := gw.Rerank(context.Background(), "عايز قميص", nil, candidates)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if !reflect.DeepEqual(got.PresentedIDs, []int64{10, 20}) {
		t.Errorf("PresentedIDs = %v, want hallucinated 999 dropped", got.PresentedIDs)
	}
	if got.Reply != "عندنا الاختيارات دي" {
		t.Errorf("Reply = %q", got.Reply)
	}
}

func TestRerankMalformedOutputDegrades(t *testing.T) {
	gw := NewGateway(&fakeGenerator{responses: []string{"not json at all"}})
	got, _, err := gw.Rerank(context.Background(), "عايز قميص", nil,
		[]models.ProductCandidate{{ID: 10}})
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if got.Reply != "" || got.PresentedIDs != nil {
		t.Errorf("malformed output should degrade to zero value, got %+v", got)
	}
}

func TestSelectCandidate(t *testing.T) {
	candidates := []models.CandidateSummary{{ID: 10}, {ID: 20}, {ID: 30}}
	tests := []struct {
		name     string
		response string
		want     SelectResult
	}{
		{"picks member", `{"selected_id": 20}`, SelectResult{SelectedID: 20, OK: true}},
		{"string id", `{"selected_id": "30"}`, SelectResult{SelectedID: 30, OK: true}},
		{"outside set", `{"selected_id": 999}`, SelectResult{}},
		{"declined", `{"selected_id": null}`, SelectResult{}},
		{"malformed", "هو قصده التاني غالبا", SelectResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewGateway(&fakeGenerator{responses: []string{tt.response}})
			got, _, err := gw.SelectCandidate(context.Background(), "التاني", candidates)
			if err != nil {
				t.Fatalf("SelectCandidate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectCandidate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGatewayPropagatesRateLimit(t *testing.T) {
	rl := &RateLimitError{RetryAfter: 10 * time.Second}
	gw := NewGateway(&fakeGenerator{err: rl})
	_, exchange, err := gw.ParseIntent(context.Background(), "عايز قميص", nil)
	var got *RateLimitError
	if !errors.As(err, &got) {
		t.Fatalf("want *RateLimitError, got %v", err)
	}
	if got.RetryAfter != 10*time.Second {
		t.Errorf("RetryAfter = %s", got.RetryAfter)
	}
	if exchange.Prompt == "" {
		t.Error("exchange prompt should survive a failed call for audit logging")
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	if msg := (&RateLimitError{}).Error(); msg != "rate limited" {
		t.Errorf("Error() = %q", msg)
	}
	if msg := (&RateLimitError{RetryAfter: 5 * time.Second}).Error(); !strings.Contains(msg, "5s") {
		t.Errorf("Error() = %q", msg)
	}
}
