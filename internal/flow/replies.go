package flow

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bww-labs/souqbot/internal/models"
)

// Fixed replies sent without a model call.
const (
	// NonTextReply answers any unsupported message shape.
	NonTextReply = "معلش، ابعتلي رسالة نصية عشان اقدر اساعدك."
	// ReselectReply re-prompts when a resolved selection has no product.
	ReselectReply = "ممكن تقولي تاني انت قصدك انهي منتج بالظبط؟"
	// RateLimitReplyNoHint apologizes when the model is rate limited and no
	// wait hint was supplied.
	RateLimitReplyNoHint = "معلش في ضغط شوية دلوقتي، جرب تبعتلي تاني بعد شوية."
)

// FallbackListLimit caps the deterministic numbered list.
const FallbackListLimit = 3

// RateLimitReply formats the apology for a rate-limited turn. A supplied
// wait hint is rounded up to whole seconds plus one.
func RateLimitReply(retryAfter time.Duration) string {
	if retryAfter <= 0 {
		return RateLimitReplyNoHint
	}
	secs := int(math.Ceil(retryAfter.Seconds())) + 1
	return fmt.Sprintf("معلش في ضغط شوية دلوقتي، جرب تبعتلي تاني بعد %d ثانية.", secs)
}

// FallbackCandidateList renders the deterministic numbered list used when
// the model's drafted reply is unusable. Candidates beyond FallbackListLimit
// are dropped.
func FallbackCandidateList(candidates []models.ProductCandidate) (string, []models.ProductCandidate) {
	if len(candidates) > FallbackListLimit {
		candidates = candidates[:FallbackListLimit]
	}
	var b strings.Builder
	b.WriteString("لقيتلك المنتجات دي:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s - السعر %.2f", i+1, c.DisplayName, c.Price)
		if c.Stock <= 0 {
			b.WriteString(" (مش متوفر حاليا)")
		}
		b.WriteString("\n")
	}
	b.WriteString("قولي رقم المنتج اللي يعجبك.")
	return b.String(), candidates
}
