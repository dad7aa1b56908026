package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"GatewayHMA/internal/route"
)

// Bucket 将一组关键词映射到一个子智能体。
type Bucket struct {
	Agent    string   `json:"agent"`
	Keywords []string `json:"keywords"`
}

// Matches 判断文本是否包含任一关键词（大小写不敏感的子串匹配）。
func (b Bucket) Matches(text string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range b.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(lowered, normalized) {
			return true
		}
	}
	return false
}

// Catalog 汇总选择关键词与投递目标的能力描述。
type Catalog struct {
	Buckets      []Bucket                `json:"buckets"`
	Capabilities map[route.Target]string `json:"capabilities"`
}

// DefaultCatalog 返回内置的默认目录。
func DefaultCatalog() *Catalog {
	return &Catalog{
		Buckets: []Bucket{
			{Agent: "DemoProgrammer", Keywords: []string{"code", "bug", "programm", "golang", "python", "funktion", "compile"}},
			{Agent: "DemoTherapist", Keywords: []string{"fühle", "traurig", "stress", "angst", "feel", "sad"}},
			{Agent: "DemoStrategist", Keywords: []string{"plan", "strategie", "priorit", "roadmap", "ziel"}},
			{Agent: "DemoCritic", Keywords: []string{"prüf", "kritik", "review", "bewerte", "risiko"}},
		},
		Capabilities: map[route.Target]string{
			route.TargetTask: "Aufgaben strukturieren, Pläne/Implementierungsschritte vorschlagen.",
			route.TargetLib:  "Recherche/Belege/Faktenprüfung, kurze Exzerpte.",
			route.TargetTrn:  "Lernpfade, Schritt-für-Schritt-Guides, Übungen/Coaching.",
		},
	}
}

// LoadCatalog 从 JSON 文件加载目录。文件中缺失的部分沿用默认值。
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("能力目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析能力目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取能力目录文件失败: %w", err)
	}
	defer file.Close()

	var loaded Catalog
	if err := json.NewDecoder(file).Decode(&loaded); err != nil {
		return nil, fmt.Errorf("解析能力目录文件失败: %w", err)
	}

	defaults := DefaultCatalog()
	if loaded.Buckets == nil {
		loaded.Buckets = defaults.Buckets
	}
	if loaded.Capabilities == nil {
		loaded.Capabilities = defaults.Capabilities
	}
	for target := range loaded.Capabilities {
		if !target.Valid() {
			return nil, fmt.Errorf("能力目录包含未知目标: %s", target)
		}
	}
	return &loaded, nil
}

// RenderCapabilities 按固定目标顺序渲染能力描述，每行一个目标。
func (c *Catalog) RenderCapabilities() string {
	if c == nil {
		return ""
	}
	var lines []string
	for _, target := range route.Targets() {
		desc := strings.TrimSpace(c.Capabilities[target])
		if desc == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", target, desc))
	}
	return strings.Join(lines, "\n")
}
