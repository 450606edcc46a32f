package settings

import (
	"encoding/json"
	"testing"
)

func TestDefaults(t *testing.T) {
	s := Default()
	if s.MinWordSizefor1Typo != 4 || s.MinWordSizefor2Typos != 8 {
		t.Errorf("typo word sizes = %d/%d, want 4/8",
			s.MinWordSizefor1Typo, s.MinWordSizefor2Typos)
	}
	if s.HitsPerPage != 20 {
		t.Errorf("hitsPerPage = %d, want 20", s.HitsPerPage)
	}
	if s.HighlightPreTag != "<em>" || s.HighlightPostTag != "</em>" {
		t.Errorf("highlight tags = %q/%q", s.HighlightPreTag, s.HighlightPostTag)
	}
	if !s.TypoTolerance {
		t.Error("typo tolerance should default on")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("default settings invalid: %v", err)
	}
}

func TestApplyJSONIsPartial(t *testing.T) {
	s := Default()
	if err := s.ApplyJSON([]byte(`{"searchableAttributes": ["title", "brand"], "hitsPerPage": 5}`)); err != nil {
		t.Fatal(err)
	}
	if len(s.SearchableAttributes) != 2 || s.SearchableAttributes[0] != "title" {
		t.Errorf("searchableAttributes = %v", s.SearchableAttributes)
	}
	if s.HitsPerPage != 5 {
		t.Errorf("hitsPerPage = %d, want 5", s.HitsPerPage)
	}
	if s.MinWordSizefor1Typo != 4 {
		t.Error("untouched attribute changed")
	}
}

func TestApplyJSONRejectsBadSettings(t *testing.T) {
	for _, payload := range []string{
		`{"ranking": ["typo", "popularity"]}`,
		`{"customRanking": ["upwards(price)"]}`,
		`{"hitsPerPage": 0}`,
		`{"minWordSizefor2Typos": 2}`,
		`{"attributesToSnippet": [":3"]}`,
		`not json`,
	} {
		s := Default()
		if err := s.ApplyJSON([]byte(payload)); err == nil {
			t.Errorf("ApplyJSON(%s): expected error", payload)
		}
	}
}

func TestSearchablePriority(t *testing.T) {
	s := Default()
	if p, ok := s.SearchablePriority("anything"); !ok || p != 0 {
		t.Error("empty list must make every attribute searchable at priority 0")
	}
	s.SearchableAttributes = []string{"title", "description"}
	if p, ok := s.SearchablePriority("description"); !ok || p != 1 {
		t.Errorf("priority(description) = %d, %v", p, ok)
	}
	if _, ok := s.SearchablePriority("price"); ok {
		t.Error("price should not be searchable")
	}
}

func TestTypoBudget(t *testing.T) {
	s := Default()
	tests := []struct{ length, want int }{
		{1, 0}, {3, 0}, {4, 1}, {7, 1}, {8, 2}, {20, 2},
	}
	for _, tc := range tests {
		if got := s.TypoBudget(tc.length); got != tc.want {
			t.Errorf("TypoBudget(%d) = %d, want %d", tc.length, got, tc.want)
		}
	}
	s.TypoTolerance = false
	if s.TypoBudget(20) != 0 {
		t.Error("typo budget must be 0 when tolerance is off")
	}
}

func TestParseCustomRanking(t *testing.T) {
	attr, desc, err := ParseCustomRanking("desc(popularity)")
	if err != nil || attr != "popularity" || !desc {
		t.Errorf("desc(popularity) = %q, %v, %v", attr, desc, err)
	}
	attr, desc, err = ParseCustomRanking("asc(price)")
	if err != nil || attr != "price" || desc {
		t.Errorf("asc(price) = %q, %v, %v", attr, desc, err)
	}
	if _, _, err := ParseCustomRanking("price"); err == nil {
		t.Error("bare attribute should be rejected")
	}
}

func TestSynonymValidate(t *testing.T) {
	good := []Synonym{
		{ObjectID: "s1", Type: SynonymTypeMutual, Synonyms: []string{"tv", "television"}},
		{ObjectID: "s2", Type: SynonymTypeOneWay, Input: "phone", Synonyms: []string{"iphone"}},
	}
	for _, s := range good {
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%s): %v", s.ObjectID, err)
		}
	}
	bad := []Synonym{
		{Type: SynonymTypeMutual, Synonyms: []string{"a", "b"}},
		{ObjectID: "x", Type: SynonymTypeMutual, Synonyms: []string{"alone"}},
		{ObjectID: "x", Type: SynonymTypeOneWay, Synonyms: []string{"a"}},
		{ObjectID: "x", Type: "altcorrection", Synonyms: []string{"a", "b"}},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("bad synonym %d passed validation", i)
		}
	}
}

func TestBuildSynonymMap(t *testing.T) {
	m := BuildSynonymMap([]Synonym{
		{ObjectID: "s1", Type: SynonymTypeMutual, Synonyms: []string{"TV", "television", "telly"}},
		{ObjectID: "s2", Type: SynonymTypeOneWay, Input: "smartphone", Synonyms: []string{"phone"}},
	})
	if alts := m.Alternatives("tv"); len(alts) != 2 {
		t.Errorf("Alternatives(tv) = %v, want two entries", alts)
	}
	if alts := m.Alternatives("Telly"); len(alts) != 2 {
		t.Errorf("mutual synonyms must expand from every member, got %v", alts)
	}
	if alts := m.Alternatives("smartphone"); len(alts) != 1 || alts[0] != "phone" {
		t.Errorf("Alternatives(smartphone) = %v", alts)
	}
	if alts := m.Alternatives("phone"); alts != nil {
		t.Errorf("one-way synonym must not expand backwards, got %v", alts)
	}
}

func TestRuleMatching(t *testing.T) {
	rule := Rule{
		ObjectID: "r1",
		Conditions: []RuleCondition{
			{Pattern: "iphone", Anchoring: AnchorContains},
		},
		Consequence: RuleConsequence{
			Params: &RuleParams{Filters: "brand = 'Apple'"},
		},
	}
	if err := rule.Validate(); err != nil {
		t.Fatal(err)
	}
	if !rule.Matches("cheap IPHONE case") {
		t.Error("contains anchoring should match case-insensitively")
	}
	if rule.Matches("android case") {
		t.Error("rule matched an unrelated query")
	}

	rule.Conditions[0].Anchoring = AnchorIs
	if rule.Matches("iphone case") {
		t.Error("is anchoring must require the whole query")
	}
	if !rule.Matches("  iphone ") {
		t.Error("is anchoring should trim surrounding whitespace")
	}

	rule.Conditions[0].Anchoring = AnchorStartsWith
	if !rule.Matches("iphone case") || rule.Matches("case iphone") {
		t.Error("startsWith anchoring misbehaved")
	}

	disabled := false
	rule.Enabled = &disabled
	if rule.Matches("iphone") {
		t.Error("disabled rule must never match")
	}
}

func TestRuleValidate(t *testing.T) {
	bad := []Rule{
		{Conditions: []RuleCondition{{Pattern: "x", Anchoring: AnchorIs}},
			Consequence: RuleConsequence{Hide: []HiddenObject{{ObjectID: "1"}}}},
		{ObjectID: "r", Consequence: RuleConsequence{Hide: []HiddenObject{{ObjectID: "1"}}}},
		{ObjectID: "r", Conditions: []RuleCondition{{Pattern: "x", Anchoring: "around"}},
			Consequence: RuleConsequence{Hide: []HiddenObject{{ObjectID: "1"}}}},
		{ObjectID: "r", Conditions: []RuleCondition{{Pattern: "x", Anchoring: AnchorIs}}},
		{ObjectID: "r", Conditions: []RuleCondition{{Pattern: "x", Anchoring: AnchorIs}},
			Consequence: RuleConsequence{Promote: []PromotedObject{{ObjectID: "1", Position: -1}}}},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("bad rule %d passed validation", i)
		}
	}
}

func TestRuleWireFormat(t *testing.T) {
	payload := `{
		"objectID": "pin-iphone",
		"conditions": [{"pattern": "iphone", "anchoring": "is"}],
		"consequence": {
			"promote": [{"objectID": "42", "position": 0}],
			"hide": [{"objectID": "7"}],
			"params": {"filters": "brand = 'Apple'"}
		}
	}`
	var rule Rule
	if err := json.Unmarshal([]byte(payload), &rule); err != nil {
		t.Fatal(err)
	}
	if err := rule.Validate(); err != nil {
		t.Fatal(err)
	}
	if rule.Consequence.Promote[0].ObjectID != "42" || rule.Consequence.Promote[0].Position != 0 {
		t.Errorf("promote = %+v", rule.Consequence.Promote)
	}
	if rule.Consequence.Params.Filters != "brand = 'Apple'" {
		t.Errorf("filters = %q", rule.Consequence.Params.Filters)
	}
	if !rule.IsEnabled() {
		t.Error("absent enabled flag must mean enabled")
	}
}
