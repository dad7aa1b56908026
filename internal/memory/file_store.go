package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultFileName     = "memory.log"
	maxEntriesPerThread = 512
)

// FileStore 使用本地 JSONL 文件保存记忆，启动时回放文件重建索引。
// 写入由互斥锁串行化。
type FileStore struct {
	mu       sync.RWMutex
	dataFile string
	threads  map[string][]Entry
}

// NewFileStore 在 dataDir 下创建或打开记忆日志。
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store := &FileStore{
		dataFile: filepath.Join(dataDir, defaultFileName),
		threads:  make(map[string][]Entry),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Append 以追加写的方式记录一条记忆。
func (s *FileStore) Append(_ context.Context, entry Entry) error {
	entry = stamp(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开记忆日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化记忆失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入记忆日志失败: %w", err)
	}

	s.index(entry)
	return nil
}

// Recent 返回线程中最新的 limit 条记录。
func (s *FileStore) Recent(_ context.Context, thread string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.threads[thread], limit), nil
}

// Close 实现 Store 接口。
func (s *FileStore) Close() error { return nil }

func (s *FileStore) index(entry Entry) {
	list := append(s.threads[entry.Thread], entry)
	if len(list) > maxEntriesPerThread {
		list = list[len(list)-maxEntriesPerThread:]
	}
	s.threads[entry.Thread] = list
}

func (s *FileStore) loadFromDisk() error {
	file, err := os.OpenFile(s.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取记忆日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.Thread == "" {
			continue
		}
		s.index(entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析记忆日志失败: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
