package hma

import (
	"fmt"
	"strings"

	"GatewayHMA/internal/agent"
	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/knowledge"
)

// DefaultBaseline 是默认的基线子智能体名称。
const DefaultBaseline = "PersonalAgent"

// Selector 决定本轮参与扇出的子智能体。
type Selector struct {
	Baseline string
	Buckets  []knowledge.Bucket
}

// Select 返回按纳入顺序排列、按名称去重的子智能体。
// 谓词返回的错误或 panic 以可恢复错误的形式放入 faults，对应智能体不经该路径入选。
func (s Selector) Select(userText, contextText string, roster []agent.SubAgent) (chosen []agent.SubAgent, faults []error) {
	byName := make(map[string]agent.SubAgent, len(roster))
	for _, a := range roster {
		if a == nil {
			continue
		}
		if _, ok := byName[a.Name()]; !ok {
			byName[a.Name()] = a
		}
	}

	seen := make(map[string]struct{}, len(roster))
	include := func(a agent.SubAgent) {
		if a == nil {
			return
		}
		if _, dup := seen[a.Name()]; dup {
			return
		}
		seen[a.Name()] = struct{}{}
		chosen = append(chosen, a)
	}

	if baseline, ok := byName[s.Baseline]; ok && s.Baseline != "" {
		include(baseline)
	}

	for _, a := range roster {
		acceptor, ok := a.(agent.Acceptor)
		if !ok {
			continue
		}
		accepted, err := safeAccept(acceptor, userText, contextText)
		if err != nil {
			faults = append(faults, xerrors.Wrap(CodeSelectionPredicate, err, "子智能体选择谓词失败", xerrors.WithMetadata("agent", a.Name())))
			continue
		}
		if accepted {
			include(a)
		}
	}

	haystack := strings.ToLower(userText + contextText)
	for _, bucket := range s.Buckets {
		if a, ok := byName[bucket.Agent]; ok && bucket.Matches(haystack) {
			include(a)
		}
	}

	// 基线存在时必然已入选，因此这里只剩整表回退。
	if len(chosen) == 0 {
		for _, a := range roster {
			include(a)
		}
	}
	return chosen, faults
}

func safeAccept(a agent.Acceptor, userText, contextText string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("accept panic: %v", r)
		}
	}()
	return a.Accept(userText, contextText)
}
