package route

import "strings"

// Target 表示一次编排周期最终答案的逻辑投递目标。
type Target string

const (
	TargetUser Target = "user"
	TargetTask Target = "task"
	TargetLib  Target = "lib"
	TargetTrn  Target = "trn"
)

// Targets 返回封闭的目标集合，顺序固定。
func Targets() []Target {
	return []Target{TargetUser, TargetTask, TargetLib, TargetTrn}
}

// Valid 判断目标是否属于封闭集合。
func (t Target) Valid() bool {
	switch t {
	case TargetUser, TargetTask, TargetLib, TargetTrn:
		return true
	default:
		return false
	}
}

// ParseTarget 将任意字符串解析为目标，大小写与首尾空白不敏感。
func ParseTarget(raw string) (Target, bool) {
	t := Target(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return TargetUser, false
	}
	return t, true
}

// Route 是经过校验的投递决策，解析后永远有效。
type Route struct {
	Target Target         `json:"deliver_to"`
	Args   map[string]any `json:"args"`
}

// Default 返回安全的默认路由 user/{}。
func Default() Route {
	return Route{Target: TargetUser, Args: map[string]any{}}
}

// AuditThread 是记录内心独白与最终答案的审计线程标签。
const AuditThread = "T2"

// Meta 描述目标对应的线程标签与展示名称。
type Meta struct {
	Thread      string `json:"thread" yaml:"thread"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// MetaTable 是启动时固定的 Target -> Meta 映射，只读。
type MetaTable map[Target]Meta

// DefaultMetaTable 返回默认的线程映射。
func DefaultMetaTable() MetaTable {
	return MetaTable{
		TargetUser: {Thread: "T1", DisplayName: "SOM"},
		TargetLib:  {Thread: "T4", DisplayName: "HMA→LIB"},
		TargetTask: {Thread: "T5", DisplayName: "HMA→TASK"},
		TargetTrn:  {Thread: "T6", DisplayName: "HMA→TRN"},
	}
}

// Resolve 查找目标的线程与展示名称；未知目标或缺失条目回退到 user 的映射。
func (m MetaTable) Resolve(t Target) Meta {
	if meta, ok := m[t]; ok && meta.Thread != "" {
		return fillDisplay(meta, t)
	}
	if meta, ok := m[TargetUser]; ok && meta.Thread != "" {
		return fillDisplay(meta, TargetUser)
	}
	return DefaultMetaTable()[TargetUser]
}

func fillDisplay(meta Meta, t Target) Meta {
	if meta.DisplayName == "" {
		meta.DisplayName = DefaultMetaTable()[t].DisplayName
	}
	return meta
}
