package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"boardroom/internal/gateway"
)

// Executor is the slice of the gateway router the knowledge service uses.
type Executor interface {
	Execute(ctx context.Context, memberSlug string, req gateway.Request) (gateway.Result, error)
}

// Extraction is the structured wisdom pulled out of one source.
type Extraction struct {
	Insight     string   `json:"insight"`
	Principle   string   `json:"principle"`
	Application string   `json:"application"`
	Themes      []string `json:"themes"`
	Relevance   int      `json:"relevance"`
}

// WisdomWorthy reports whether the extraction should feed prompts and synthesis.
func (e Extraction) WisdomWorthy() bool {
	return e.Relevance > 0 && strings.TrimSpace(e.Insight) != ""
}

var errNoJSON = errors.New("no JSON object in model output")

func cleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}

// ParseExtraction decodes model output, tolerating code fences and chatter
// around the object. Relevance is clamped to 0..100 and themes are normalized.
func ParseExtraction(raw string) (Extraction, error) {
	s := cleanJSON(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return Extraction{}, errNoJSON
	}
	var ex Extraction
	if err := json.Unmarshal([]byte(s[start:end+1]), &ex); err != nil {
		return Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}
	ex.Insight = strings.TrimSpace(ex.Insight)
	ex.Principle = strings.TrimSpace(ex.Principle)
	ex.Application = strings.TrimSpace(ex.Application)
	if ex.Relevance < 0 {
		ex.Relevance = 0
	}
	if ex.Relevance > 100 {
		ex.Relevance = 100
	}
	seen := map[string]bool{}
	themes := ex.Themes[:0]
	for _, th := range ex.Themes {
		th = strings.ToLower(strings.TrimSpace(th))
		if th == "" || seen[th] {
			continue
		}
		seen[th] = true
		themes = append(themes, th)
	}
	ex.Themes = themes
	return ex, nil
}

const extractionSystem = `You distill business wisdom from public material about a leader.
Ignore gossip, feuds, lawsuits, politics and private life.
Reply with a single JSON object and nothing else:
{"insight": string, "principle": string, "application": string, "themes": [string], "relevance": integer 0-100}
Use relevance 0 when the material holds no transferable lesson.`

// Extractor asks a designated member to extract wisdom.
type Extractor struct {
	Gateway Executor
	Member  string
}

func (x Extractor) Extract(ctx context.Context, figureName, sourceType, content string) (Extraction, error) {
	prompt := fmt.Sprintf("Leader: %s\nSource type: %s\n\nMaterial:\n%s", figureName, sourceType, content)
	res, err := x.Gateway.Execute(ctx, x.Member, gateway.Request{System: extractionSystem, Prompt: prompt, Topic: "knowledge_extraction"})
	if err != nil {
		return Extraction{}, err
	}
	return ParseExtraction(res.Text)
}
