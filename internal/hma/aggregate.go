package hma

import (
	"strings"
)

const (
	// NoContributions 是没有任何内部贡献时的占位文本。
	NoContributions = "(keine internen Beiträge)"
	findingsHeader  = "# Findings (kompakt)"
)

// ClaimVote 记录某个断言值在本轮出现的次数。
type ClaimVote struct {
	Kind  string
	Value string
	Count int
}

var defaultMatcher = DefaultClaimMatcher()

// Aggregator 把贡献渲染为内部材料，并附加多数投票得到的发现。
type Aggregator struct {
	Matcher ClaimMatcher
}

// Aggregate 不会失败。同票时先出现的值胜出。
func (a Aggregator) Aggregate(contribs []Contribution) string {
	type key struct{ name, text string }
	seen := make(map[key]struct{}, len(contribs))
	unique := make([]Contribution, 0, len(contribs))
	blocks := make([]string, 0, len(contribs))
	for _, c := range contribs {
		k := key{strings.TrimSpace(c.Name), strings.TrimSpace(c.Text)}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, c)
		blocks = append(blocks, "## "+c.Name+"\n"+c.Text)
	}

	material := NoContributions
	if len(blocks) > 0 {
		material = strings.Join(blocks, "\n\n")
	}

	if findings := renderFindings(a.Tally(unique)); findings != "" {
		material += "\n\n" + findings
	}
	return material
}

// Tally 统计每个种类的多数值，结果按匹配器的种类顺序排列。
func (a Aggregator) Tally(contribs []Contribution) []ClaimVote {
	m := a.matcher()
	counts := make(map[string]map[string]int)
	order := make(map[string][]string)
	for _, c := range contribs {
		for _, claim := range m.Match(c.Text) {
			perKind, ok := counts[claim.Kind]
			if !ok {
				perKind = make(map[string]int)
				counts[claim.Kind] = perKind
			}
			if _, ok := perKind[claim.Value]; !ok {
				order[claim.Kind] = append(order[claim.Kind], claim.Value)
			}
			perKind[claim.Value]++
		}
	}

	var votes []ClaimVote
	for _, kind := range m.Kinds() {
		values := order[kind]
		if len(values) == 0 {
			continue
		}
		best := ClaimVote{Kind: kind}
		for _, v := range values {
			if n := counts[kind][v]; n > best.Count {
				best.Value, best.Count = v, n
			}
		}
		votes = append(votes, best)
	}
	return votes
}

func (a Aggregator) matcher() ClaimMatcher {
	if a.Matcher == nil {
		return defaultMatcher
	}
	return a.Matcher
}

func renderFindings(votes []ClaimVote) string {
	if len(votes) == 0 {
		return ""
	}
	lines := make([]string, 0, len(votes)+1)
	lines = append(lines, findingsHeader)
	for _, v := range votes {
		lines = append(lines, "- **"+v.Kind+"**: "+v.Value)
	}
	return strings.Join(lines, "\n")
}
