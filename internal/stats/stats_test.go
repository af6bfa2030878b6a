package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

const historyCSV = `,train_loss,val_loss,train_acc,val_acc
0,1.25,0.875,0.5,0.625
1,0.75,0.5,0.75,
`

func TestReadHistory(t *testing.T) {
	c := qt.New(t)
	h, err := ReadHistory(strings.NewReader(historyCSV))
	c.Assert(err, qt.IsNil)
	c.Assert(h, qt.DeepEquals, History{
		"train_loss": {"0": 1.25, "1": 0.75},
		"val_loss":   {"0": 0.875, "1": 0.5},
		"train_acc":  {"0": 0.5, "1": 0.75},
		"val_acc":    {"0": 0.625},
	})
}

func TestReadHistoryErrors(t *testing.T) {
	c := qt.New(t)

	h, err := ReadHistory(strings.NewReader(""))
	c.Assert(err, qt.IsNil)
	c.Assert(h, qt.HasLen, 0)

	_, err = ReadHistory(strings.NewReader("epoch\n0\n"))
	c.Assert(err, qt.ErrorMatches, "history needs an index column and at least one metric")

	_, err = ReadHistory(strings.NewReader(",loss\n0,lots\n"))
	c.Assert(err, qt.ErrorMatches, `line 2, column loss: .*invalid syntax`)
}

type memCache struct {
	entries map[string][]byte
	ttls    map[string]time.Duration
	err     error
	gets    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.entries[key] = value
	m.ttls[key] = ttl
	return nil
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{}) {}

func writeHistory(c *qt.C) string {
	path := filepath.Join(c.TempDir(), "history.csv")
	c.Assert(os.WriteFile(path, []byte(historyCSV), 0o644), qt.IsNil)
	return path
}

func TestSourceCachesHistory(t *testing.T) {
	c := qt.New(t)
	path := writeHistory(c)
	cache := newMemCache()
	src := NewSource(path, cache, 10*time.Second, nopLogger{})

	first, err := src.History(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(cache.ttls[cacheKey], qt.Equals, 10*time.Second)

	// served from the cache even when the file is gone
	c.Assert(os.Remove(path), qt.IsNil)
	second, err := src.History(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.DeepEquals, first)
}

func TestSourceWithoutRedis(t *testing.T) {
	c := qt.New(t)
	path := writeHistory(c)
	cache := newMemCache()
	cache.err = errors.New("connection refused")

	h, err := NewSource(path, cache, time.Second, nopLogger{}).History(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(h["val_loss"]["1"], qt.Equals, 0.5)
	c.Assert(cache.gets, qt.Equals, 1)

	h, err = NewSource(path, nil, time.Second, nopLogger{}).History(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(h, qt.HasLen, 4)
}

func TestSourceMissingFile(t *testing.T) {
	c := qt.New(t)
	_, err := NewSource(filepath.Join(c.TempDir(), "nope.csv"), newMemCache(), time.Second, nopLogger{}).History(context.Background())
	c.Assert(errors.Is(err, os.ErrNotExist), qt.IsTrue)
}
