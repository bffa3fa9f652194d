package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// --- Structures ---

// DispatchRecord は !pc コマンド1回分の実行結果です。
type DispatchRecord struct {
	ChannelID string
	Author    string
	Raw       string
	Segments  int
	Executed  int
	Skipped   int
	Error     string
	CreatedAt time.Time
}

// InferenceRecord は /generate リクエスト1回分の結果です。プロンプト本文は保存しません。
type InferenceRecord struct {
	RequestID     string
	Model         string
	PromptChars   int
	ResponseChars int
	Status        int
	Outcome       string
	Duration      time.Duration
	CreatedAt     time.Time
}

// --- DBStore ---

type DBStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewDBStore(dataSourceName string) (*DBStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}
	// sqlite は単一ライターなので接続を1本に絞る
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	store := &DBStore{db: db}
	if err = store.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *DBStore) initTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT,
			author TEXT,
			raw TEXT NOT NULL,
			segments INTEGER NOT NULL DEFAULT 0,
			executed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS inference_history (
			request_id TEXT PRIMARY KEY,
			model TEXT,
			prompt_chars INTEGER NOT NULL DEFAULT 0,
			response_chars INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_created ON dispatch_history(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_inference_created ON inference_history(created_at);`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("テーブルの作成に失敗しました: %w", err)
		}
	}
	return nil
}

func (s *DBStore) Close() {
	s.db.Close()
}

// created_at はUnixミリ秒で保存する
func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

// --- History ---

func (s *DBStore) RecordDispatch(rec DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO dispatch_history (channel_id, author, raw, segments, executed, skipped, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ChannelID, rec.Author, rec.Raw, rec.Segments, rec.Executed, rec.Skipped, rec.Error, stamp(rec.CreatedAt),
	)
	return err
}

func (s *DBStore) RecordInference(rec InferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO inference_history (request_id, model, prompt_chars, response_chars, status, outcome, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Model, rec.PromptChars, rec.ResponseChars, rec.Status, rec.Outcome, rec.Duration.Milliseconds(), stamp(rec.CreatedAt),
	)
	return err
}

// Prune は before より古い履歴を削除し、削除件数を返します。
func (s *DBStore) Prune(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, table := range []string{"dispatch_history", "inference_history"} {
		res, err := tx.Exec("DELETE FROM "+table+" WHERE created_at < ?", before.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("%s の削除に失敗しました: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

// NopStore は履歴を保存しないストアです。storage.path が空のときに使います。
type NopStore struct{}

func (NopStore) Close()                                {}
func (NopStore) RecordDispatch(DispatchRecord) error   { return nil }
func (NopStore) RecordInference(InferenceRecord) error { return nil }
func (NopStore) Prune(time.Time) (int64, error)        { return 0, nil }
