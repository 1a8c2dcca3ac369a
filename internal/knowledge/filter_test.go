package knowledge

import "testing"

func TestShouldFilterContent(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		filters  []string
		context  string
		filter   bool
		pattern  string
		severity string
	}{
		{"rivalry", "Bezos criticized Musk's SpaceX delays", nil, ContextWisdomExtraction, true, "rivalry", SeverityHard},
		{"hard ignores direct quote", "Bezos criticized Musk's SpaceX delays", nil, ContextDirectQuote, true, "rivalry", SeverityHard},
		{"legal", "The company was sued over its patents", nil, ContextSynthesis, true, "legal_dispute", SeverityHard},
		{"social media", "another twitter spat broke out overnight", nil, ContextPrompt, true, "social_media_feud", SeverityHard},
		{"soft filtered", "He spoke about his divorce and how it changed him", nil, ContextWisdomExtraction, true, "personal_life", SeveritySoft},
		{"soft allowed in quote", "He spoke about his divorce and how it changed him", nil, ContextDirectQuote, false, "", ""},
		{"partisan", "She campaigned for the Republicans last fall", nil, ContextSynthesis, true, "partisan_politics", SeveritySoft},
		{"custom term", "Thoughts on the DOGE budget review", []string{"doge"}, ContextDirectQuote, true, "custom", SeverityCustom},
		{"clean", "Customer obsession beats competitor obsession over a long horizon", []string{"doge"}, ContextWisdomExtraction, false, "", ""},
		{"no false positive on updating", "Updating the roadmap every quarter keeps the team honest", nil, ContextWisdomExtraction, false, "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ShouldFilterContent(c.content, c.filters, c.context)
			if got.Filter != c.filter || got.Pattern != c.pattern || got.Severity != c.severity {
				t.Fatalf("got %+v", got)
			}
			if got.Filter && got.Reason == "" {
				t.Fatalf("filtered decision needs a reason")
			}
		})
	}
}

func TestHardMatchWinsOverSoft(t *testing.T) {
	got := ShouldFilterContent("After the divorce he sued his former partner", nil, ContextWisdomExtraction)
	if got.Pattern != "legal_dispute" {
		t.Fatalf("expected hard pattern first, got %+v", got)
	}
}

func TestFilterIsDeterministic(t *testing.T) {
	content := "Musk mocked the Republicans during a twitter feud about a lawsuit"
	first := ShouldFilterContent(content, []string{"twitter"}, ContextSynthesis)
	for i := 0; i < 50; i++ {
		if got := ShouldFilterContent(content, []string{"twitter"}, ContextSynthesis); got != first {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestValidContext(t *testing.T) {
	if !ValidContext(ContextPrompt) || ValidContext("gossip") {
		t.Fatalf("unexpected context validation")
	}
}
