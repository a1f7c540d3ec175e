package lora

import (
	"context"

	"github.com/ilkoid/condsched/pkg/utils"
)

// Cache хранит загруженные LoRA на время одного прохода оркестратора.
//
// Отсутствующая LoRA - не ошибка: она логируется предупреждением,
// помечается и расписание продолжает работать без неё. Повторные
// запросы того же имени не бьют в источник.
//
// Не потокобезопасен: оркестратор однопоточный.
type Cache struct {
	source  Source
	loaded  map[string]*Weights
	missing map[string]bool
}

// NewCache создает кэш поверх источника. source может быть nil,
// тогда все LoRA считаются отсутствующими.
func NewCache(source Source) *Cache {
	return &Cache{
		source:  source,
		loaded:  make(map[string]*Weights),
		missing: make(map[string]bool),
	}
}

// LoadAll прогревает кэш всеми именами из расписания.
func (c *Cache) LoadAll(ctx context.Context, names []string) {
	for _, name := range names {
		if c.loaded[name] != nil || c.missing[name] {
			continue
		}
		if c.source == nil {
			utils.Warn("lora requested but no lora source configured, skipping", "lora", name)
			c.missing[name] = true
			continue
		}
		w, err := c.source.Fetch(ctx, name)
		if err != nil {
			utils.Warn("lora not found, schedule continues without it", "lora", name, "error", err)
			c.missing[name] = true
			continue
		}
		utils.Info("lora loaded", "lora", name, "tensors", len(w.Tensors))
		c.loaded[name] = w
	}
}

// Get возвращает загруженную LoRA по имени.
func (c *Cache) Get(name string) (*Weights, bool) {
	w, ok := c.loaded[name]
	return w, ok
}
