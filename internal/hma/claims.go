package hma

import (
	"regexp"
	"strings"
)

// Claim 是从贡献文本中抽取的一条软性断言。
type Claim struct {
	Kind  string
	Value string
}

// ClaimMatcher 从文本中抽取断言。Kinds 给出断言种类的渲染顺序。
type ClaimMatcher interface {
	Kinds() []string
	Match(text string) []Claim
}

// ClaimPattern 是一个带种类标签的正则。
type ClaimPattern struct {
	Kind    string
	Pattern *regexp.Regexp
}

// RegexClaimMatcher 依次对文本运行每个模式，返回全部匹配。
type RegexClaimMatcher struct {
	Patterns []ClaimPattern
}

// DefaultClaimMatcher 返回面向德语对话调校的默认匹配器：name、entscheidung、ort。
func DefaultClaimMatcher() *RegexClaimMatcher {
	return &RegexClaimMatcher{Patterns: []ClaimPattern{
		{Kind: "name", Pattern: regexp.MustCompile(`(?i)\b(hei[ßs]e?\s+ich|mein\s+name\s+ist|du\s+hei[ßs]t)\b.+`)},
		{Kind: "entscheidung", Pattern: regexp.MustCompile(`(?i)\b(sollte|muss|werde|wir\s+werden|plane)\b.+`)},
		{Kind: "ort", Pattern: regexp.MustCompile(`(?i)\b(in|bei|aus)\s+[A-ZÄÖÜ][A-Za-zÄÖÜäöüß\-]+(?:\s+[A-ZÄÖÜ][A-Za-zÄÖÜäöüß\-]+)*`)},
	}}
}

// Kinds 实现 ClaimMatcher 接口。
func (m *RegexClaimMatcher) Kinds() []string {
	kinds := make([]string, 0, len(m.Patterns))
	for _, p := range m.Patterns {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}

// Match 实现 ClaimMatcher 接口。
func (m *RegexClaimMatcher) Match(text string) []Claim {
	text = strings.TrimSpace(text)
	var claims []Claim
	for _, p := range m.Patterns {
		if p.Pattern == nil {
			continue
		}
		for _, hit := range p.Pattern.FindAllString(text, -1) {
			if hit = strings.TrimSpace(hit); hit != "" {
				claims = append(claims, Claim{Kind: p.Kind, Value: hit})
			}
		}
	}
	return claims
}

var _ ClaimMatcher = (*RegexClaimMatcher)(nil)
