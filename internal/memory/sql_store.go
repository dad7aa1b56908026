package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLConfig 描述 SQL 记忆存储的连接参数。
type SQLConfig struct {
	// Driver 为 "mysql" 或 "sqlite"。
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore 将记忆写入 MySQL 或 SQLite。并发安全由 database/sql 连接池保证。
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore 打开连接并执行内嵌迁移。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	dialect := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if dialect == "" {
		dialect = "sqlite"
	}
	db, err := openDatabase(ctx, dialect, cfg)
	if err != nil {
		return nil, err
	}
	store := &SQLStore{db: db, dialect: dialect}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, dialect string, cfg SQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", dialect)
	}

	var driverName string
	switch dialect {
	case "mysql":
		driverName = "mysql"
	case "sqlite":
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("暂不支持的存储驱动: %s", dialect)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", dialect, err)
	}

	if dialect == "sqlite" {
		// SQLite 只允许单写者，内存库还要求所有语句落在同一连接上。
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(10)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		} else {
			db.SetMaxIdleConns(5)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		} else {
			db.SetConnMaxLifetime(5 * time.Minute)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", dialect, err)
	}
	return db, nil
}

// Append 插入一条记忆。
func (s *SQLStore) Append(ctx context.Context, entry Entry) error {
	entry = stamp(entry)
	metadata := "{}"
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("序列化记忆元数据失败: %w", err)
		}
		metadata = string(encoded)
	}

	const stmt = `INSERT INTO memory_entries
        (thread, role, name, content, metadata, corr_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		entry.Thread,
		entry.Role,
		entry.Name,
		entry.Text,
		metadata,
		entry.Metadata[MetaCorrID],
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", s.dialect, err)
	}
	return nil
}

// Recent 查询线程中最新的若干条记忆，按写入顺序返回。
func (s *SQLStore) Recent(ctx context.Context, thread string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT thread, role, name, content, metadata, created_at
        FROM memory_entries WHERE thread = ? ORDER BY id DESC LIMIT ?`, thread, limit)
	if err != nil {
		return nil, fmt.Errorf("查询记忆失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			metadata string
		)
		if err := rows.Scan(&entry.Thread, &entry.Role, &entry.Name, &entry.Text, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析记忆失败: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("解析记忆元数据失败: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历记忆失败: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ByCorrID 返回同一编排周期写入的全部记忆。
func (s *SQLStore) ByCorrID(ctx context.Context, corrID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread, role, name, content, metadata, created_at
        FROM memory_entries WHERE corr_id = ? ORDER BY id ASC`, corrID)
	if err != nil {
		return nil, fmt.Errorf("按关联 ID 查询记忆失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			metadata string
		)
		if err := rows.Scan(&entry.Thread, &entry.Role, &entry.Name, &entry.Text, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析记忆失败: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			_ = json.Unmarshal([]byte(metadata), &entry.Metadata)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
