package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stockcheck/stockcheck/internal/httpclient"
	"github.com/stockcheck/stockcheck/internal/store"
)

const (
	geminiModel     = "gemini-1.5-flash"
	openRouterModel = "google/gemma-2-9b-it:free"
	geminiEndpoint  = "https://generativelanguage.googleapis.com/v1beta/models/" + geminiModel + ":generateContent"
	openRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
)

// Summarizer turns the prompt into raw model output.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Analysis is the parsed model output.
type Analysis struct {
	Summary     string
	Predictions map[string]string
	ValidJSON   bool
}

// PromptData is everything the model sees.
type PromptData struct {
	Market        string                         `json:"market"`
	Timestamp     string                         `json:"timestamp"`
	Watchlist     []Snapshot                     `json:"watchlist"`
	Indices       []Snapshot                     `json:"indices"`
	Institutional []Institutional                `json:"institutional"`
	Pipeline      map[string]store.SymbolContext `json:"pipeline"`
}

// BuildPrompt asks for a strict JSON object with summary and per-symbol
// up/down/neutral predictions.
func BuildPrompt(data PromptData) string {
	payload, _ := json.Marshal(data)
	return "Respond with JSON only. The object must have a \"summary\" string " +
		"(3 paragraphs: market, notable symbols, risks) and a \"predictions\" " +
		"object mapping each watchlist symbol to up, down or neutral. Data: " +
		string(payload)
}

// ParseAnalysis extracts the summary and prediction map from raw model
// output. Symbols missing from the output, or with values outside the
// up/down/neutral set, stay "unknown". When no JSON object can be found
// the raw text is kept as the summary.
func ParseAnalysis(raw string, symbols []string) Analysis {
	a := Analysis{
		Summary:     strings.TrimSpace(raw),
		Predictions: make(map[string]string, len(symbols)),
	}
	for _, s := range symbols {
		a.Predictions[s] = "unknown"
	}

	parsed := extractJSON(raw)
	if parsed == nil {
		return a
	}
	a.ValidJSON = true
	if summary, ok := parsed["summary"].(string); ok && strings.TrimSpace(summary) != "" {
		a.Summary = strings.TrimSpace(summary)
	}
	predictions, _ := parsed["predictions"].(map[string]any)
	for _, symbol := range symbols {
		value, _ := predictions[symbol].(string)
		switch strings.ToLower(value) {
		case "up", "down", "neutral":
			a.Predictions[symbol] = strings.ToLower(value)
		}
	}
	return a
}

// extractJSON tolerates prose around the object, taking the outermost
// braces when the whole text does not parse.
func extractJSON(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil
	}
	return parsed
}

// GeminiSummarizer calls the generativelanguage REST API.
type GeminiSummarizer struct {
	HTTP     *httpclient.Client
	APIKey   string
	Endpoint string
}

func (g *GeminiSummarizer) Name() string { return "gemini" }

func (g *GeminiSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = geminiEndpoint
	}
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":      0.3,
			"maxOutputTokens":  800,
			"responseMimeType": "application/json",
		},
	}
	resp, err := g.HTTP.PostJSON(ctx, endpoint+"?key="+g.APIKey, body, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: empty response")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

// OpenRouterSummarizer calls the OpenRouter chat completions API.
type OpenRouterSummarizer struct {
	HTTP     *httpclient.Client
	APIKey   string
	Endpoint string
}

func (o *OpenRouterSummarizer) Name() string { return "openrouter" }

func (o *OpenRouterSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	endpoint := o.Endpoint
	if endpoint == "" {
		endpoint = openRouterURL
	}
	body := map[string]any{
		"model":       openRouterModel,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": 0.3,
		"max_tokens":  800,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + o.APIKey,
		"X-Title":       "stockcheck",
	}
	resp, err := o.HTTP.PostJSON(ctx, endpoint, body, headers)
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openrouter: empty response")
	}
	return out.Choices[0].Message.Content, nil
}

// FallbackSummary composes a model-free brief from the collected data,
// used when no summarizer is configured or every one failed.
func FallbackSummary(data PromptData) string {
	var b strings.Builder

	b.WriteString("Market: ")
	if len(data.Indices) == 0 {
		b.WriteString("index data unavailable.")
	} else {
		parts := make([]string, 0, len(data.Indices))
		for _, idx := range data.Indices {
			parts = append(parts, fmt.Sprintf("%s %.2f (%+.2f, %+.2f%%)", idx.Symbol, idx.Price, idx.Change, idx.ChangePct))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(".")
	}

	b.WriteString("\nWatchlist: ")
	if len(data.Watchlist) == 0 {
		b.WriteString("no symbol data.")
	} else {
		limit := len(data.Watchlist)
		if limit > 4 {
			limit = 4
		}
		parts := make([]string, 0, limit)
		for _, s := range data.Watchlist[:limit] {
			trend := "trend unclear"
			if s.MA50 > 0 && s.MA200 > 0 {
				if s.Price >= s.MA50 && s.MA50 >= s.MA200 {
					trend = "above both moving averages"
				} else {
					trend = "below trend"
				}
			}
			line := fmt.Sprintf("%s closed at %.2f (%+.2f%%), MA50/MA200 %.2f/%.2f, %s",
				s.Symbol, s.Price, s.ChangePct, s.MA50, s.MA200, trend)
			if ctx, ok := data.Pipeline[s.Symbol]; ok && len(ctx.News) > 0 {
				line += ", in focus: " + truncate(ctx.News[0].Title, 60)
			}
			parts = append(parts, line)
		}
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(".")
	}

	if len(data.Institutional) > 0 {
		b.WriteString("\nInstitutional: ")
		limit := len(data.Institutional)
		if limit > 3 {
			limit = 3
		}
		parts := make([]string, 0, limit)
		for _, item := range data.Institutional[:limit] {
			parts = append(parts, fmt.Sprintf("%s net %+.0f", item.Symbol, item.TotalNet))
		}
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(".")
	}

	b.WriteString("\nRisks: watch earnings results, currency moves and broad market sentiment; thin volume can amplify short-term swings.")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
