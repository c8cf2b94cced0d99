// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"keyfs/internal/util"
)

// SchemaVersion is stored in schema_info and checked on open.
const SchemaVersion = "1"

// DefaultBusyTimeout is the SQLite busy_timeout in milliseconds.
const DefaultBusyTimeout = 30000

// EntryModel represents the entries table: one row per key.
type EntryModel struct {
	bun.BaseModel `bun:"table:entries"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Key   string `bun:"key,notnull,unique"`
	Data  []byte `bun:"data,notnull"`
	Mtime int64  `bun:"mtime,notnull"` // Unix nanoseconds
}

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_info (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entries (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		key   TEXT NOT NULL UNIQUE,
		data  BLOB NOT NULL DEFAULT x'',
		mtime INTEGER NOT NULL
	)`,
}

// KeyStoreOptions tunes how the SQLite file is opened.
type KeyStoreOptions struct {
	// BusyTimeout in milliseconds; 0 uses DefaultBusyTimeout.
	BusyTimeout int
}

// KeyStore is a Backend persisted in a SQLite file through bun and libsql.
//
// Handles address rows by id, so they survive a Rename of their key. After
// Unlink the row is gone and handle operations fail with ENOENT.
type KeyStore struct {
	path string
	db   *bun.DB
	ctx  context.Context
	now  func() time.Time
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// OpenKeyStore opens (creating if needed) the key space stored at path.
func OpenKeyStore(path string, opts KeyStoreOptions) (*KeyStore, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	sqlDB, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Busy timeout first so journal_mode=WAL waits for locks.
	if err := execPragma(sqlDB, fmt.Sprintf("PRAGMA busy_timeout = %d", busy)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(sqlDB, "PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(sqlDB, "PRAGMA synchronous=NORMAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	s := &KeyStore{
		path: path,
		db:   bun.NewDB(sqlDB, sqlitedialect.New()),
		ctx:  context.Background(),
		now:  time.Now,
	}
	if err := s.initSchema(); err != nil {
		s.db.Close()
		return nil, err
	}
	log.Debugf("[storage] opened key store %s", path)
	return s, nil
}

func (s *KeyStore) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(s.ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	var info SchemaInfoModel
	err := s.db.NewSelect().Model(&info).Where("key = ?", "version").Scan(s.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.NewInsert().
			Model(&SchemaInfoModel{Key: "version", Value: SchemaVersion}).
			Exec(s.ctx)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read schema info: %w", err)
	}
	if info.Value != SchemaVersion {
		return fmt.Errorf("unsupported schema version %q (want %q)", info.Value, SchemaVersion)
	}
	return nil
}

// Path returns the database file path.
func (s *KeyStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *KeyStore) Close() error {
	return s.db.Close()
}

// lookupID returns the row id for key, or ENOENT.
func (s *KeyStore) lookupID(idb bun.IDB, op, key string) (int64, error) {
	var id int64
	err := idb.NewSelect().
		Model((*EntryModel)(nil)).
		Column("id").
		Where("key = ?", key).
		Scan(s.ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, newError(op, key, syscall.ENOENT)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Open implements Backend.
func (s *KeyStore) Open(key string, create bool) (Handle, error) {
	if err := validateKey("open", key); err != nil {
		return nil, err
	}
	id, err := util.RetryWithResult(s.ctx, func() (int64, error) {
		id, err := s.lookupID(s.db, "open", key)
		if err == nil || !create {
			return id, err
		}
		if code, ok := CodeOf(err); !ok || code != syscall.ENOENT {
			return 0, err
		}
		model := &EntryModel{Key: key, Data: []byte{}, Mtime: s.now().UnixNano()}
		_, err = s.db.NewInsert().
			Model(model).
			On("CONFLICT (key) DO NOTHING").
			Exec(s.ctx)
		if err != nil {
			return 0, err
		}
		return s.lookupID(s.db, "open", key)
	})
	if err != nil {
		return nil, wrapError("open", key, err)
	}
	return &sqlHandle{store: s, id: id, key: key}, nil
}

// SetAttributes implements Backend.
func (s *KeyStore) SetAttributes(key string, attrs Attributes) error {
	err := util.Retry(s.ctx, func() error {
		return s.db.RunInTx(s.ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			id, err := s.lookupID(tx, "setattr", key)
			if err != nil {
				return err
			}
			return s.truncateTx(tx, id, key, attrs.Size)
		})
	})
	return wrapError("setattr", key, err)
}

// truncateTx resizes a row's data. The modification time is not touched.
func (s *KeyStore) truncateTx(tx bun.Tx, id int64, key string, size int64) error {
	if size < 0 {
		return newError("setattr", key, syscall.EINVAL)
	}
	entry, err := s.loadTx(tx, id, "setattr", key)
	if err != nil {
		return err
	}
	_, err = tx.NewUpdate().
		Model((*EntryModel)(nil)).
		Set("data = ?", resize(entry.Data, size)).
		Where("id = ?", id).
		Exec(s.ctx)
	return err
}

func (s *KeyStore) loadTx(idb bun.IDB, id int64, op, key string) (*EntryModel, error) {
	var entry EntryModel
	err := idb.NewSelect().Model(&entry).Where("id = ?", id).Scan(s.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(op, key, syscall.ENOENT)
	}
	if err != nil {
		return nil, err
	}
	if entry.Data == nil {
		entry.Data = []byte{}
	}
	return &entry, nil
}

// Exists implements Backend.
func (s *KeyStore) Exists(key string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*EntryModel)(nil)).
		Where("key = ?", key).
		Exists(s.ctx)
	if err != nil {
		return false, wrapError("exists", key, err)
	}
	return exists, nil
}

// Rename implements Backend.
func (s *KeyStore) Rename(oldKey, newKey string) error {
	if err := validateKey("rename", newKey); err != nil {
		return err
	}
	err := util.Retry(s.ctx, func() error {
		return s.db.RunInTx(s.ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			id, err := s.lookupID(tx, "rename", oldKey)
			if err != nil {
				return err
			}
			if oldKey == newKey {
				return nil
			}
			if _, err := tx.NewDelete().
				Model((*EntryModel)(nil)).
				Where("key = ?", newKey).
				Exec(ctx); err != nil {
				return err
			}
			_, err = tx.NewUpdate().
				Model((*EntryModel)(nil)).
				Set("key = ?", newKey).
				Where("id = ?", id).
				Exec(ctx)
			return err
		})
	})
	return wrapError("rename", oldKey, err)
}

// Unlink implements Backend.
func (s *KeyStore) Unlink(key string) error {
	err := util.Retry(s.ctx, func() error {
		return s.db.RunInTx(s.ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			id, err := s.lookupID(tx, "unlink", key)
			if err != nil {
				return err
			}
			_, err = tx.NewDelete().
				Model((*EntryModel)(nil)).
				Where("id = ?", id).
				Exec(ctx)
			return err
		})
	})
	return wrapError("unlink", key, err)
}

// ListByPrefix implements Backend.
// instr() is used instead of LIKE because '_' and '%' are LIKE wildcards and
// '_' is the usual path encoding character.
func (s *KeyStore) ListByPrefix(prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.db.NewRaw(
		`SELECT key FROM entries WHERE instr(key, ?) = 1 ORDER BY key`, prefix,
	).Scan(s.ctx, &keys)
	if err != nil {
		return nil, wrapError("list", prefix, err)
	}
	return keys, nil
}

// sqlHandle is a Handle on a KeyStore row.
type sqlHandle struct {
	store  *KeyStore
	id     int64
	key    string
	closed bool
}

func (h *sqlHandle) check(op string) error {
	if h.closed {
		return newError(op, h.key, syscall.EBADF)
	}
	return nil
}

func (h *sqlHandle) Read(position int64, length int) ([]byte, error) {
	if err := h.check("read"); err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, newError("read", h.key, syscall.EINVAL)
	}
	if length <= 0 {
		return []byte{}, nil
	}
	var data []byte
	// substr is 1-based and works on bytes for BLOB values.
	err := h.store.db.QueryRowContext(h.store.ctx,
		`SELECT coalesce(substr(data, ?, ?), x'') FROM entries WHERE id = ?`,
		position+1, length, h.id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError("read", h.key, syscall.ENOENT)
	}
	if err != nil {
		return nil, wrapError("read", h.key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (h *sqlHandle) Write(data []byte, position int64) (int, error) {
	if err := h.check("write"); err != nil {
		return 0, err
	}
	if position < 0 {
		return 0, newError("write", h.key, syscall.EINVAL)
	}
	s := h.store
	err := util.Retry(s.ctx, func() error {
		return s.db.RunInTx(s.ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			entry, err := s.loadTx(tx, h.id, "write", h.key)
			if err != nil {
				return err
			}
			_, err = tx.NewUpdate().
				Model((*EntryModel)(nil)).
				Set("data = ?", writeAt(entry.Data, data, position)).
				Set("mtime = ?", s.now().UnixNano()).
				Where("id = ?", h.id).
				Exec(ctx)
			return err
		})
	})
	if err != nil {
		return 0, wrapError("write", h.key, err)
	}
	return len(data), nil
}

func (h *sqlHandle) Close() error {
	if err := h.check("close"); err != nil {
		return err
	}
	h.closed = true
	return nil
}

func (h *sqlHandle) GetAttributes() (Attributes, error) {
	if err := h.check("getattr"); err != nil {
		return Attributes{}, err
	}
	var size, mtime int64
	err := h.store.db.QueryRowContext(h.store.ctx,
		`SELECT length(data), mtime FROM entries WHERE id = ?`, h.id,
	).Scan(&size, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return Attributes{}, newError("getattr", h.key, syscall.ENOENT)
	}
	if err != nil {
		return Attributes{}, wrapError("getattr", h.key, err)
	}
	return Attributes{Size: size, ModificationTime: time.Unix(0, mtime)}, nil
}

func (h *sqlHandle) SetAttributes(attrs Attributes) error {
	if err := h.check("setattr"); err != nil {
		return err
	}
	s := h.store
	err := util.Retry(s.ctx, func() error {
		return s.db.RunInTx(s.ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return s.truncateTx(tx, h.id, h.key, attrs.Size)
		})
	})
	return wrapError("setattr", h.key, err)
}
