// Package encodertest содержит детерминированный стаб encoder.Handle
// для тестов без настоящей модели.
package encodertest

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ilkoid/condsched/pkg/encoder"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/ilkoid/condsched/pkg/tensor"
)

// Stub - реализация encoder.Handle с чисто вычислимым результатом.
//
// Тензор энкодинга - детерминированная функция от токенов, опций и
// применённых к стабу LoRA. Один и тот же вход всегда даёт один и тот же
// выход, поэтому на стабе можно проверять кэширование и взвешенные
// суммы. Счётчики вызовов общие для всех клонов стаба.
//
// Thread-safe: можно звать из параллельных тестов.
type Stub struct {
	family encoder.Family
	dim    int
	keyMap lora.KeyMap
	calls  *callCounter

	mu      sync.Mutex
	applied []appliedLora
}

type appliedLora struct {
	name  string
	scale float64
}

type callCounter struct {
	mu        sync.Mutex
	encodes   int
	tokenizes int
	applies   int
}

// New возвращает стаб одноканальной модели с размерностью dim.
func New(dim int) *Stub {
	return &Stub{family: encoder.FamilyStandard, dim: dim, keyMap: defaultKeyMap(), calls: &callCounter{}}
}

// NewDual возвращает стаб dual-clip модели: каналы "l" и "g" плюс
// pooled-выход размерности dim.
func NewDual(dim int) *Stub {
	return &Stub{family: encoder.FamilyDual, dim: dim, keyMap: defaultKeyMap(), calls: &callCounter{}}
}

var _ encoder.Handle = (*Stub)(nil)

// WithKeyMap заменяет таблицу ключей LoRA.
func (s *Stub) WithKeyMap(km lora.KeyMap) *Stub {
	s.keyMap = km
	return s
}

// Tokenize нарезает текст на слова. Каждый вызов дает ровно одну чанку
// на канал, так что число чанок равно числу BREAK-сегментов промпта.
func (s *Stub) Tokenize(ctx context.Context, text string, wordIDs bool) (encoder.Tokens, error) {
	s.calls.mu.Lock()
	s.calls.tokenizes++
	s.calls.mu.Unlock()

	words := strings.Fields(text)
	chunk := make(encoder.Chunk, 0, len(words)+1)
	for i, w := range words {
		id := int(mixString(fnvOffset, w) % 49408)
		tok := encoder.Token{ID: id, Weight: 1.0}
		if wordIDs {
			tok.WordID = i + 1
		}
		chunk = append(chunk, tok)
	}
	if len(chunk) == 0 {
		chunk = append(chunk, encoder.Token{ID: 0, Weight: 1.0})
	}

	t := encoder.Tokens{encoder.ChannelL: []encoder.Chunk{chunk}}
	if s.family == encoder.FamilyDual {
		g := make(encoder.Chunk, len(chunk))
		copy(g, chunk)
		t[encoder.ChannelG] = []encoder.Chunk{g}
	}
	return t, nil
}

// EncodeFromTokens возвращает тензор с одной строкой на чанку канала "l".
func (s *Stub) EncodeFromTokens(ctx context.Context, t encoder.Tokens, returnPooled bool, opts encoder.EncodeOpts) (*tensor.Tensor, tensor.Vector, error) {
	s.calls.mu.Lock()
	s.calls.encodes++
	s.calls.mu.Unlock()

	state := s.stateHash(opts)

	chunks := t[encoder.ChannelL]
	rows := len(chunks)
	if rows == 0 {
		rows = 1
	}
	out := tensor.New(rows, s.dim)
	for i := 0; i < rows; i++ {
		h := mixInt(state, int64(i))
		if i < len(chunks) {
			h = mixChunk(h, chunks[i])
		}
		for j := 0; j < s.dim; j++ {
			out.Set(i, j, unit(mixInt(h, int64(j))))
		}
	}

	var pooled tensor.Vector
	if returnPooled && s.family == encoder.FamilyDual {
		h := mixString(state, "pooled")
		for _, c := range t[encoder.ChannelG] {
			h = mixChunk(h, c)
		}
		pooled = make(tensor.Vector, s.dim)
		for j := range pooled {
			pooled[j] = unit(mixInt(h, int64(j)))
		}
	}
	return out, pooled, nil
}

func (s *Stub) Family() encoder.Family {
	return s.family
}

// Clone возвращает копию стаба с независимым списком применённых LoRA.
// Счётчики вызовов остаются общими.
func (s *Stub) Clone() encoder.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := &Stub{family: s.family, dim: s.dim, keyMap: s.keyMap, calls: s.calls}
	cp.applied = append([]appliedLora(nil), s.applied...)
	return cp
}

// ApplyLora запоминает патч. Имя и вес LoRA меняют результат всех
// последующих энкодингов этого стаба.
func (s *Stub) ApplyLora(ctx context.Context, name string, w *lora.Weights, clipScale float64) error {
	s.calls.mu.Lock()
	s.calls.applies++
	s.calls.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, appliedLora{name: name, scale: clipScale})
	return nil
}

func (s *Stub) KeyMap() lora.KeyMap {
	return s.keyMap
}

// EncodeCount возвращает общее число вызовов EncodeFromTokens по всем
// клонам стаба.
func (s *Stub) EncodeCount() int {
	s.calls.mu.Lock()
	defer s.calls.mu.Unlock()
	return s.calls.encodes
}

// TokenizeCount возвращает общее число вызовов Tokenize по всем клонам.
func (s *Stub) TokenizeCount() int {
	s.calls.mu.Lock()
	defer s.calls.mu.Unlock()
	return s.calls.tokenizes
}

// ApplyCount возвращает общее число вызовов ApplyLora по всем клонам.
func (s *Stub) ApplyCount() int {
	s.calls.mu.Lock()
	defer s.calls.mu.Unlock()
	return s.calls.applies
}

// AppliedLoras возвращает имена LoRA, применённых к этому экземпляру,
// в порядке применения.
func (s *Stub) AppliedLoras() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.applied))
	for _, a := range s.applied {
		names = append(names, a.name)
	}
	return names
}

func (s *Stub) stateHash(opts encoder.EncodeOpts) uint64 {
	s.mu.Lock()
	applied := append([]appliedLora(nil), s.applied...)
	s.mu.Unlock()

	h := mixString(fnvOffset, opts.Style)
	h = mixString(h, opts.Normalization)
	for _, r := range opts.Regions {
		h = mixString(h, r.Text)
		h = mixString(h, r.Target)
		h = mixString(h, r.Weight)
	}
	for _, a := range applied {
		h = mixString(h, a.name)
		h = mixInt(h, int64(math.Float64bits(a.scale)))
	}
	return h
}

func defaultKeyMap() lora.KeyMap {
	return lora.KeyMap{
		"lora_te1_text_model_encoder_layers_0_self_attn_q_proj": "clip_l.transformer.text_model.encoder.layers.0.self_attn.q_proj",
		"lora_te1_text_model_encoder_layers_0_self_attn_k_proj": "clip_l.transformer.text_model.encoder.layers.0.self_attn.k_proj",
		"lora_te2_text_model_encoder_layers_0_self_attn_q_proj": "clip_g.transformer.text_model.encoder.layers.0.self_attn.q_proj",
	}
}

// KeyMapKeys возвращает отсортированные ключи дефолтной таблицы. Удобно
// для генерации тестовых safetensors с подходящими ключами.
func KeyMapKeys() []string {
	km := defaultKeyMap()
	keys := make([]string, 0, len(km))
	for k := range km {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

func mixString(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return h
}

func mixInt(h uint64, v int64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(v >> (8 * i)))
		h *= fnvPrime
	}
	return h
}

func mixChunk(h uint64, c encoder.Chunk) uint64 {
	for _, tok := range c {
		h = mixInt(h, int64(tok.ID))
		h = mixInt(h, int64(math.Float64bits(tok.Weight)))
		h = mixInt(h, int64(tok.WordID))
	}
	return h
}

// unit отображает хэш в [-1, 1] с шагом 1e-6.
func unit(h uint64) float32 {
	return float32(float64(h%2000001)/1000000.0 - 1.0)
}
