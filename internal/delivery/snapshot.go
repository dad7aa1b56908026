package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SnapshotWriter 将每个周期的最终答案写成独立文本文件，供人工审阅。
type SnapshotWriter struct {
	dir string
	now func() time.Time
}

// NewSnapshotWriter 创建写入 dir 的 SnapshotWriter。
func NewSnapshotWriter(dir string) (*SnapshotWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("快照目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建快照目录失败: %w", err)
	}
	return &SnapshotWriter{dir: dir, now: time.Now}, nil
}

// Write 写入 {corr}_{unix}_{target}.txt 并返回路径。corrID 为空时生成随机 ID。
func (w *SnapshotWriter) Write(corrID, target, text string) (string, error) {
	if corrID == "" {
		corrID = uuid.NewString()
	}
	name := fmt.Sprintf("%s_%d_%s.txt", sanitize(corrID), w.now().Unix(), sanitize(target))
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("写入快照失败: %w", err)
	}
	return path, nil
}

func sanitize(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
