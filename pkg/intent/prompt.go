package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// systemPrompt instructs the model to emit a single JSON object matching the
// Intent schema. Kept deliberately terse; extraction is a small task.
const systemPrompt = `You are a shopping request parser. Extract the user's shopping intent as a single JSON object with these fields:
{
  "product": "<what to buy, required>",
  "platform": "<storefront name if the user named one, else omit>",
  "filters": {"price_max": <number>, "price_min": <number>, "brand": "<string>", "min_rating": <number>, "color": "<string>", "size": "<string>"},
  "sort": "<price_asc|price_desc|rating|popularity, if requested>",
  "delivery_location": "<pincode or city, if given>",
  "payment_method": "<cod|card|upi, if given>",
  "quantity": <number, if given>
}
Omit fields the user did not specify. Respond with the JSON object only, no prose.`

// maxPromptTokens bounds intent prompts well under every candidate's context
// window; a request this long is garbage input, not a real shopping query.
const maxPromptTokens = 4096

// BuildPrompt assembles the full prompt for a raw request.
func BuildPrompt(rawText string) string {
	return systemPrompt + "\n\nRequest: " + rawText
}

// tokenGuard rejects prompts over the token budget before a network call is
// spent. All candidates approximate well with the GPT-4 encoding.
type tokenGuard struct {
	codec tokenizer.Codec
}

func newTokenGuard() (*tokenGuard, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &tokenGuard{codec: codec}, nil
}

func (g *tokenGuard) count(text string) int {
	if g == nil || g.codec == nil {
		// Character-based estimation fallback (4 chars ≈ 1 token).
		return len(text) / 4
	}
	n, err := g.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// StripCodeFences removes markdown code-fence artifacts from model output.
// Models frequently wrap JSON in ```json ... ``` despite instructions.
func StripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence ("json", "JSON", ...).
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first != "" && !strings.ContainsAny(first, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseIntent parses raw model output into an Intent. The raw text is kept on
// the returned ParseError for diagnostics.
func ParseIntent(raw, originalText string) (Intent, error) {
	cleaned := StripCodeFences(raw)

	var parsed Intent
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return Intent{}, &ParseError{Raw: raw, Err: err}
	}
	if strings.TrimSpace(parsed.Product) == "" {
		return Intent{}, &ParseError{Raw: raw, Err: fmt.Errorf("missing required product field")}
	}

	parsed.Product = strings.TrimSpace(parsed.Product)
	parsed.Platform = strings.ToLower(strings.TrimSpace(parsed.Platform))
	if parsed.Quantity < 0 {
		parsed.Quantity = 0
	}
	parsed.Raw = originalText
	return parsed, nil
}
