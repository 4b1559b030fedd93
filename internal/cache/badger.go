package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BadgerConfig configures the on-disk cache.
type BadgerConfig struct {
	Path       string        `yaml:"path" mapstructure:"path"`
	InMemory   bool          `yaml:"in_memory" mapstructure:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes" mapstructure:"sync_writes"`
	StaleFor   time.Duration `yaml:"stale_for" mapstructure:"stale_for"`
}

// BadgerCache is a Cache persisted in BadgerDB. Each value is stored behind
// an 8-byte expiry header; badger's own TTL is set to expiry plus the stale
// grace so the LSM drops dead entries on its own.
type BadgerCache struct {
	db       *badger.DB
	staleFor time.Duration
	nowFunc  func() time.Time
}

// zapBadgerLogger routes badger's logging through the global zap logger.
type zapBadgerLogger struct{}

func (zapBadgerLogger) Errorf(format string, args ...any) {
	zap.L().Error(fmt.Sprintf("cache: badger: "+format, args...))
}

func (zapBadgerLogger) Warningf(format string, args ...any) {
	zap.L().Warn(fmt.Sprintf("cache: badger: "+format, args...))
}

func (zapBadgerLogger) Infof(format string, args ...any) {
	zap.L().Debug(fmt.Sprintf("cache: badger: "+format, args...))
}

func (zapBadgerLogger) Debugf(format string, args ...any) {
	zap.L().Debug(fmt.Sprintf("cache: badger: "+format, args...))
}

// NewBadger opens a BadgerCache.
func NewBadger(cfg BadgerConfig) (*BadgerCache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, eris.New("cache: badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, eris.Wrapf(err, "cache: create dir %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapBadgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open badger")
	}

	staleFor := cfg.StaleFor
	if staleFor <= 0 {
		staleFor = DefaultStaleFor
	}
	return &BadgerCache{db: db, staleFor: staleFor, nowFunc: time.Now}, nil
}

func encodeEntry(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	copy(buf[8:], value)
	return buf
}

func decodeEntry(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < 8 {
		return nil, time.Time{}, eris.New("cache: corrupt entry")
	}
	expiresAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8])))
	value := make([]byte, len(raw)-8)
	copy(value, raw[8:])
	return value, expiresAt, nil
}

func (c *BadgerCache) read(key string) ([]byte, time.Time, bool, error) {
	var (
		value     []byte
		expiresAt time.Time
	)
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			var derr error
			value, expiresAt, derr = decodeEntry(raw)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, eris.Wrapf(err, "cache: get %s", key)
	}
	return value, expiresAt, true, nil
}

func (c *BadgerCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, expiresAt, ok, err := c.read(key)
	if err != nil {
		return nil, false, err
	}
	if !ok || !c.nowFunc().Before(expiresAt) {
		observe("badger", false, false)
		return nil, false, nil
	}
	observe("badger", true, false)
	return value, true, nil
}

func (c *BadgerCache) GetStale(_ context.Context, key string) ([]byte, bool, error) {
	value, expiresAt, ok, err := c.read(key)
	if err != nil {
		return nil, false, err
	}
	if !ok || !c.nowFunc().Before(expiresAt.Add(c.staleFor)) {
		observe("badger", false, true)
		return nil, false, nil
	}
	observe("badger", true, true)
	return value, true, nil
}

func (c *BadgerCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := c.nowFunc().Add(ttl)
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), encodeEntry(value, expiresAt)).WithTTL(ttl + c.staleFor)
		return txn.SetEntry(e)
	})
	return eris.Wrapf(err, "cache: set %s", key)
}

func (c *BadgerCache) Delete(_ context.Context, key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return eris.Wrapf(err, "cache: delete %s", key)
}

func (c *BadgerCache) Clear(_ context.Context) error {
	return eris.Wrap(c.db.DropAll(), "cache: clear")
}

// Purge deletes entries past their stale grace and runs a value log GC
// round. Badger also expires them on its own; Purge makes it immediate.
func (c *BadgerCache) Purge(ctx context.Context) (int, error) {
	now := c.nowFunc()
	var dead [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(raw []byte) error {
				_, expiresAt, derr := decodeEntry(raw)
				if derr != nil || !now.Before(expiresAt.Add(c.staleFor)) {
					dead = append(dead, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "cache: purge scan")
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range dead {
		if err := wb.Delete(k); err != nil {
			return 0, eris.Wrap(err, "cache: purge delete")
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, eris.Wrap(err, "cache: purge flush")
	}

	if !c.db.Opts().InMemory {
		if err := c.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			zap.L().Debug("cache: value log gc", zap.Error(err))
		}
	}
	return len(dead), nil
}

func (c *BadgerCache) Close() error {
	return eris.Wrap(c.db.Close(), "cache: close badger")
}
