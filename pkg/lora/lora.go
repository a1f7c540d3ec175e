package lora

import (
	"context"

	"github.com/ilkoid/condsched/pkg/utils"
)

// KeyMap отображает ключи тензоров LoRA-файла в ключи клип-модели цели.
// Цель сама знает свою схему ключей (Kohya, diffusers и т.д.).
type KeyMap map[string]string

// Target - то, к чему можно применить LoRA. Реализуется энкодер-хэндлами.
//
// Клонирование цели перед мутацией - обязанность вызывающего: Apply
// патчит переданную цель на месте.
type Target interface {
	ApplyLora(ctx context.Context, name string, w *Weights, clipScale float64) error
	KeyMap() KeyMap
}

// MapKeys возвращает копию весов, в которой ключи тензоров переведены
// через km в ключи модели. Тензоры без соответствия отбрасываются.
func (w *Weights) MapKeys(km KeyMap) *Weights {
	mapped := &Weights{Name: w.Name, Tensors: make(map[string]TensorData, len(w.Tensors)), Metadata: w.Metadata}
	skipped := 0
	for key, t := range w.Tensors {
		target, ok := km[key]
		if !ok {
			skipped++
			continue
		}
		mapped.Tensors[target] = t
	}
	if skipped > 0 {
		utils.Debug("lora keys without mapping skipped", "lora", w.Name, "skipped", skipped, "kept", len(mapped.Tensors))
	}
	return mapped
}

// Apply применяет LoRA к цели с указанным клип-весом.
//
// Тензоры предварительно фильтруются через KeyMap цели. LoRA без единого
// подходящего ключа применяется вхолостую: это не ошибка, просто файл
// не трогает клип-ветку.
func Apply(ctx context.Context, t Target, w *Weights, clipScale float64) error {
	mapped := w.MapKeys(t.KeyMap())
	if len(mapped.Tensors) == 0 {
		utils.Warn("lora has no tensors matching the clip key map", "lora", w.Name)
	}
	return t.ApplyLora(ctx, w.Name, mapped, clipScale)
}
