package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bww-labs/souqbot/internal/models"
)

// Prompt assembly bounds.
const (
	// MaxHistoryTurns is how many recent turns a prompt carries.
	MaxHistoryTurns = 10
	// MaxIntentKeywords bounds the keyword list a parse may return.
	MaxIntentKeywords = 12
	// MaxRerankPresented bounds how many candidates a rerank may present.
	MaxRerankPresented = 3
	// MaxSelectCandidates bounds the set a selection call chooses from.
	MaxSelectCandidates = 10
)

// Exchange is one audited model round trip.
type Exchange struct {
	Model    string
	Prompt   string
	Response string
}

// IntentResult is the parsed classification of a free-text message.
// Malformed model output degrades to the zero value.
type IntentResult struct {
	Intent   string
	Keywords []string
}

// RerankResult is a drafted reply plus the candidate ids the model chose to
// present, already filtered to members of the supplied set.
type RerankResult struct {
	Reply        string
	PresentedIDs []int64
}

// SelectResult is the outcome of a fuzzy selection call. OK is false when
// the model declined to pick or picked outside the supplied set.
type SelectResult struct {
	SelectedID int64
	OK         bool
}

// AnswerRequest carries the inputs for a free-text answer. Context and
// Candidates are optional; when Context is set the answer is grounded and
// the model is forbidden from inventing facts outside it.
type AnswerRequest struct {
	Text       string
	History    []models.StoredMessage
	Context    *models.ProductContext
	Candidates []models.CandidateSummary
}

// Gateway layers the conversational call shapes over a Generator.
type Gateway struct {
	gen Generator
}

// NewGateway wraps a Generator.
func NewGateway(gen Generator) *Gateway {
	return &Gateway{gen: gen}
}

// Answer produces a free-text customer-service reply, optionally grounded
// in product context or a candidate list.
func (g *Gateway) Answer(ctx context.Context, req AnswerRequest) (string, Exchange, error) {
	var b strings.Builder
	b.WriteString("انت موظف خدمة عملاء لمتجر الكتروني.\n")
	b.WriteString("رد بالعربي بطريقة محترمة وبسيطة. خلي الرد قصير وطبيعي.\n")
	switch {
	case req.Context != nil:
		b.WriteString("جاوب باستخدام بيانات المنتج التالية فقط. ممنوع تخترع اي معلومة مش موجودة فيها.\n\n")
		writeProductContext(&b, req.Context)
	case len(req.Candidates) > 0:
		b.WriteString("دي المنتجات المتاحة، اعرضها على العميل من غير ما تضيف منتجات تانية:\n\n")
		writeCandidateSummaries(&b, req.Candidates)
	}
	writeHistory(&b, req.History)
	b.WriteString("\nرسالة العميل: ")
	b.WriteString(req.Text)

	prompt := b.String()
	response, err := g.gen.Generate(ctx, prompt)
	exchange := Exchange{Model: g.gen.Model(), Prompt: prompt, Response: response}
	if err != nil {
		return "", exchange, err
	}
	return strings.TrimSpace(response), exchange, nil
}

// ParseIntent classifies a message and extracts search keywords. Malformed
// model output degrades to empty defaults, never an error.
func (g *Gateway) ParseIntent(ctx context.Context, text string, history []models.StoredMessage) (IntentResult, Exchange, error) {
	var b strings.Builder
	b.WriteString("صنف رسالة العميل دي لمتجر الكتروني.\n")
	b.WriteString(`رجع JSON فقط بالشكل ده: {"intent": "product_search" او "general_question", "keywords": ["كلمات البحث عن المنتج"]}` + "\n")
	b.WriteString("لو الرسالة مش عن منتج خلي keywords فاضية.\n")
	writeHistory(&b, history)
	b.WriteString("\nرسالة العميل: ")
	b.WriteString(text)

	prompt := b.String()
	response, err := g.gen.Generate(ctx, prompt)
	exchange := Exchange{Model: g.gen.Model(), Prompt: prompt, Response: response}
	if err != nil {
		return IntentResult{}, exchange, err
	}

	object, ok := ExtractJSONObject(response)
	if !ok {
		slog.Debug("Unparseable intent output, using defaults")
		return IntentResult{}, exchange, nil
	}
	result := IntentResult{
		Intent:   stringField(object, "intent"),
		Keywords: stringListField(object, "keywords"),
	}
	if len(result.Keywords) > MaxIntentKeywords {
		result.Keywords = result.Keywords[:MaxIntentKeywords]
	}
	return result, exchange, nil
}

// Rerank asks the model to pick the best few candidates and draft the reply.
// Ids outside the supplied set are dropped; an empty reply means the caller
// should fall back to a deterministic list.
func (g *Gateway) Rerank(ctx context.Context, text string, history []models.StoredMessage, candidates []models.ProductCandidate) (RerankResult, Exchange, error) {
	var b strings.Builder
	b.WriteString("انت موظف خدمة عملاء لمتجر الكتروني. العميل بيدور على منتج.\n")
	b.WriteString("دي نتائج البحث. اختار افضل ")
	fmt.Fprintf(&b, "%d", MaxRerankPresented)
	b.WriteString(" منهم بالظبط من القايمة دي وبس، ممنوع تخترع منتجات.\n")
	b.WriteString(`رجع JSON فقط بالشكل ده: {"reply": "رد قصير للعميل يعرض المنتجات بارقام 1 2 3", "presented_ids": [المعرفات بترتيب العرض]}` + "\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. id=%d | %s | السعر %.2f | المخزون %d\n", i+1, c.ID, c.DisplayName, c.Price, c.Stock)
	}
	writeHistory(&b, history)
	b.WriteString("\nرسالة العميل: ")
	b.WriteString(text)

	prompt := b.String()
	response, err := g.gen.Generate(ctx, prompt)
	exchange := Exchange{Model: g.gen.Model(), Prompt: prompt, Response: response}
	if err != nil {
		return RerankResult{}, exchange, err
	}

	object, ok := ExtractJSONObject(response)
	if !ok {
		slog.Debug("Unparseable rerank output, using defaults")
		return RerankResult{}, exchange, nil
	}

	valid := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		valid[c.ID] = true
	}
	var presented []int64
	for _, id := range int64ListField(object, "presented_ids") {
		if !valid[id] {
			slog.Debug("Dropping hallucinated rerank id", "id", id)
			continue
		}
		presented = append(presented, id)
		if len(presented) == MaxRerankPresented {
			break
		}
	}
	return RerankResult{
		Reply:        stringField(object, "reply"),
		PresentedIDs: presented,
	}, exchange, nil
}

// SelectCandidate asks the model which presented candidate the user meant.
// Ids outside the supplied set count as no selection.
func (g *Gateway) SelectCandidate(ctx context.Context, text string, candidates []models.CandidateSummary) (SelectResult, Exchange, error) {
	if len(candidates) > MaxSelectCandidates {
		candidates = candidates[:MaxSelectCandidates]
	}
	var b strings.Builder
	b.WriteString("العميل شاف قايمة المنتجات دي ورد برسالة. حدد هو قصد انهي منتج.\n")
	b.WriteString(`رجع JSON فقط بالشكل ده: {"selected_id": المعرف} او {"selected_id": null} لو مش واضح.` + "\n\n")
	writeCandidateSummaries(&b, candidates)
	b.WriteString("\nرسالة العميل: ")
	b.WriteString(text)

	prompt := b.String()
	response, err := g.gen.Generate(ctx, prompt)
	exchange := Exchange{Model: g.gen.Model(), Prompt: prompt, Response: response}
	if err != nil {
		return SelectResult{}, exchange, err
	}

	object, ok := ExtractJSONObject(response)
	if !ok {
		return SelectResult{}, exchange, nil
	}
	id, ok := int64Field(object, "selected_id")
	if !ok {
		return SelectResult{}, exchange, nil
	}
	for _, c := range candidates {
		if c.ID == id {
			return SelectResult{SelectedID: id, OK: true}, exchange, nil
		}
	}
	slog.Debug("Model selected id outside presented set", "id", id)
	return SelectResult{}, exchange, nil
}

func writeHistory(b *strings.Builder, history []models.StoredMessage) {
	if len(history) == 0 {
		return
	}
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	b.WriteString("\nالمحادثة السابقة:\n")
	for _, m := range history {
		if m.Role == models.RoleAssistant {
			b.WriteString("المساعد: ")
		} else {
			b.WriteString("العميل: ")
		}
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
}

func writeCandidateSummaries(b *strings.Builder, candidates []models.CandidateSummary) {
	for i, c := range candidates {
		fmt.Fprintf(b, "%d. id=%d | %s | السعر %.2f | المخزون %d\n", i+1, c.ID, c.DisplayName, c.Price, c.Stock)
	}
}

func writeProductContext(b *strings.Builder, pc *models.ProductContext) {
	p := pc.Product
	fmt.Fprintf(b, "المنتج: %s (id=%d)\n", p.DisplayName, p.ID)
	fmt.Fprintf(b, "السعر: %.2f | المخزون: %d\n", p.Price, p.Stock)
	if p.ShortDescription != "" {
		fmt.Fprintf(b, "الوصف: %s\n", p.ShortDescription)
	}
	if len(pc.Images) > 0 {
		fmt.Fprintf(b, "عدد الصور: %d\n", len(pc.Images))
	}
	if len(pc.Variants) > 0 {
		b.WriteString("المتغيرات:\n")
		for _, v := range pc.Variants {
			fmt.Fprintf(b, "- id=%d | السعر %.2f | المخزون %d", v.ID, v.Price, v.Stock)
			if v.SKUCode != "" {
				fmt.Fprintf(b, " | %s", v.SKUCode)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
}
