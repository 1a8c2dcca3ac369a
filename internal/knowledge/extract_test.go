package knowledge

import (
	"reflect"
	"testing"
)

func TestParseExtraction(t *testing.T) {
	raw := "```json\n{\"insight\":\" Start with the customer \",\"principle\":\"Work backwards\",\"application\":\"Write the press release first\",\"themes\":[\"Customer\",\"customer\",\" writing \"],\"relevance\":140}\n```"
	ex, err := ParseExtraction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ex.Insight != "Start with the customer" || ex.Relevance != 100 {
		t.Fatalf("unexpected extraction %+v", ex)
	}
	if !reflect.DeepEqual(ex.Themes, []string{"customer", "writing"}) {
		t.Fatalf("themes not normalized: %v", ex.Themes)
	}
	if !ex.WisdomWorthy() {
		t.Fatalf("expected wisdom-worthy")
	}
}

func TestParseExtractionChatterAndZero(t *testing.T) {
	ex, err := ParseExtraction(`Sure, here it is: {"insight":"","relevance":-5} hope that helps`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ex.Relevance != 0 || ex.WisdomWorthy() {
		t.Fatalf("expected not wisdom-worthy, got %+v", ex)
	}
	if _, err := ParseExtraction("no json here"); err == nil {
		t.Fatalf("expected error without JSON")
	}
}
