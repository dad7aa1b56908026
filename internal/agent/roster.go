package agent

import (
	"time"

	"GatewayHMA/internal/llm"
)

// Profile 描述名册中的一个子智能体。
type Profile struct {
	Name           string
	SystemPrompt   string
	AcceptKeywords []string
	UseTools       bool
}

// DefaultProfiles 返回默认名册：一个基线个人助理与四个演示专家。
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name: "PersonalAgent",
			SystemPrompt: "Ich erinnere Nutzerfakten. " +
				"Wenn ich Fakten speichern oder suchen will, kann ich Tools aufrufen.\n" +
				"Dazu gebe ich eine JSON-Zeile aus: " +
				`{"tool": "search_memory", "args": {"query": "..."}} oder ` +
				`{"tool": "remember_fact", "args": {"fact": "..."}}`,
			UseTools: true,
		},
		{Name: "DemoTherapist", SystemPrompt: "Kurz, empathisch."},
		{Name: "DemoProgrammer", SystemPrompt: "Senior-Engineer, präzise."},
		{Name: "DemoStrategist", SystemPrompt: "Strukturiert, priorisiert."},
		{Name: "DemoCritic", SystemPrompt: "Kritischer Prüfer."},
	}
}

// BuildRoster 为每个 Profile 创建 Specialist，保持 Profile 的顺序。
func BuildRoster(client llm.Client, profiles []Profile, tools []Tool, timeout time.Duration) []SubAgent {
	roster := make([]SubAgent, 0, len(profiles))
	for _, p := range profiles {
		if p.Name == "" {
			continue
		}
		opts := []Option{
			WithSystemPrompt(p.SystemPrompt),
			WithAcceptKeywords(p.AcceptKeywords...),
			WithLLMTimeout(timeout),
		}
		if p.UseTools {
			opts = append(opts, WithTools(tools...))
		}
		roster = append(roster, NewSpecialist(p.Name, client, opts...))
	}
	return roster
}
