// Package cache хранит закодированные сегменты по ключу состояния
// промпта.
//
// Ключ включает текст сегмента и активный набор LoRA, поэтому попадание
// в кэш эквивалентно повторному энкодингу. Бэкенды: memory (без
// вытеснения, на один запуск), lru (ограниченный объём) и sqlite
// (переживает перезапуск процесса).
package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/config"
)

// CondCache - хранилище сегментов кондиционирования.
//
// Сегменты разделяются между кэшем и потребителями без копирования,
// мутировать их нельзя.
type CondCache interface {
	Get(key string) ([]cond.Segment, bool)
	Put(key string, segs []cond.Segment)
	Len() int
	Close() error
}

// New собирает кэш по конфигурации.
func New(cfg config.CacheConfig) (CondCache, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "lru":
		return NewLRU(cfg.Size)
	case "sqlite":
		return NewSQLite(cfg.Path, cfg.Size)
	default:
		return nil, fmt.Errorf("unknown cache kind: %s", cfg.Kind)
	}
}

// Memory - кэш без вытеснения. Живет, пока живет процесс.
//
// Thread-safe.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]cond.Segment
}

var _ CondCache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{m: make(map[string][]cond.Segment)}
}

func (c *Memory) Get(key string) ([]cond.Segment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	segs, ok := c.m[key]
	return segs, ok
}

func (c *Memory) Put(key string, segs []cond.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = segs
}

func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *Memory) Close() error {
	return nil
}

// LRU - кэш с вытеснением давно не читанных ключей.
//
// Thread-safe.
type LRU struct {
	c *lru.Cache[string, []cond.Segment]
}

var _ CondCache = (*LRU)(nil)

// NewLRU создает кэш на size ключей. Неположительный размер заменяется
// дефолтом из конфигурации.
func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		def := config.CacheConfig{}
		size = def.GetDefaults().Size
	}
	c, err := lru.New[string, []cond.Segment](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	return &LRU{c: c}, nil
}

func (c *LRU) Get(key string) ([]cond.Segment, bool) {
	return c.c.Get(key)
}

func (c *LRU) Put(key string, segs []cond.Segment) {
	c.c.Add(key, segs)
}

func (c *LRU) Len() int {
	return c.c.Len()
}

func (c *LRU) Close() error {
	c.c.Purge()
	return nil
}
