// Package openaiembed реализует encoder.Handle поверх OpenAI-совместимого
// embeddings API.
//
// Запасной вариант для окружений без клип-сайдкара: кондиционирование
// собирается из текстовых эмбеддингов, по одной строке тензора на чанку.
// Токенных весов и LoRA-патчей у API нет: веса игнорируются, LoRA
// применяются вхолостую с предупреждением в логе. BaseURL позволяет
// ходить в локальные OpenAI-совместимые серверы.
package openaiembed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ilkoid/condsched/pkg/encoder"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/ilkoid/condsched/pkg/tensor"
	"github.com/ilkoid/condsched/pkg/utils"
)

// Config - параметры embeddings-энкодера.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dim - запрашиваемая размерность эмбеддинга. Ноль оставляет
	// размерность модели.
	Dim int
	// Limit - запросов в секунду, ноль отключает лимитер.
	Limit   float64
	Burst   int
	Timeout time.Duration
}

// Handle - embeddings-реализация encoder.Handle.
//
// Токенизация здесь номинальная: чанка кодируется одним токеном со
// ссылкой на интернированный текст, а настоящий текст уезжает в API при
// энкодинге. Состояния у хэндла нет, клоны разделяют клиента и таблицу
// текстов.
type Handle struct {
	api     *openai.Client
	model   openai.EmbeddingModel
	dim     int
	limiter *rate.Limiter
	texts   *internTable

	warnMu sync.Mutex
	warned map[string]bool
}

var _ encoder.Handle = (*Handle)(nil)

// New создает embeddings-энкодер.
func New(cfg Config) *Handle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	h := &Handle{
		api:    openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(model),
		dim:    cfg.Dim,
		texts:  newInternTable(),
		warned: make(map[string]bool),
	}
	if cfg.Limit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.Limit), burst)
	}
	return h
}

// Tokenize интернирует текст и возвращает одну чанку с ссылкой на него.
func (h *Handle) Tokenize(ctx context.Context, text string, wordIDs bool) (encoder.Tokens, error) {
	id := h.texts.intern(text)
	chunk := encoder.Chunk{{ID: id, Weight: 1.0}}
	return encoder.Tokens{encoder.ChannelL: []encoder.Chunk{chunk}}, nil
}

// EncodeFromTokens запрашивает эмбеддинги всех чанок одним батчем.
func (h *Handle) EncodeFromTokens(ctx context.Context, t encoder.Tokens, returnPooled bool, opts encoder.EncodeOpts) (*tensor.Tensor, tensor.Vector, error) {
	chunks := t[encoder.ChannelL]
	inputs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if len(c) == 0 {
			inputs = append(inputs, "")
			continue
		}
		inputs = append(inputs, h.texts.lookup(c[0].ID))
	}
	if len(inputs) == 0 {
		inputs = []string{""}
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req := openai.EmbeddingRequest{
		Input: inputs,
		Model: h.model,
	}
	if h.dim > 0 {
		req.Dimensions = h.dim
	}
	resp, err := h.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("requesting embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, nil, fmt.Errorf("embeddings response has %d rows, want %d", len(resp.Data), len(inputs))
	}

	// API не обязан сохранять порядок, раскладываем по Index
	rows := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(rows) {
			return nil, nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		rows[d.Index] = d.Embedding
	}
	cond, err := tensor.FromRows(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed embeddings response: %w", err)
	}
	return cond, nil, nil
}

// ApplyLora не поддерживается embeddings-энкодером и игнорируется.
func (h *Handle) ApplyLora(ctx context.Context, name string, w *lora.Weights, clipScale float64) error {
	h.warnMu.Lock()
	defer h.warnMu.Unlock()
	if !h.warned[name] {
		utils.Warn("embeddings encoder cannot apply lora patches, ignoring", "lora", name)
		h.warned[name] = true
	}
	return nil
}

// KeyMap возвращает пустую таблицу: у embeddings-модели нет клип-ключей.
func (h *Handle) KeyMap() lora.KeyMap {
	return lora.KeyMap{}
}

func (h *Handle) Family() encoder.Family {
	return encoder.FamilyStandard
}

// Clone возвращает хэндл с теми же клиентом и таблицей текстов.
// Состояния, которое нужно было бы изолировать, у энкодера нет.
func (h *Handle) Clone() encoder.Handle {
	return &Handle{
		api:     h.api,
		model:   h.model,
		dim:     h.dim,
		limiter: h.limiter,
		texts:   h.texts,
		warned:  make(map[string]bool),
	}
}

// internTable - таблица интернированных текстов чанок.
//
// Thread-safe: растет под мьютексом, индексы стабильны.
type internTable struct {
	mu     sync.Mutex
	byText map[string]int
	texts  []string
}

func newInternTable() *internTable {
	return &internTable{byText: make(map[string]int)}
}

func (t *internTable) intern(s string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byText[s]; ok {
		return id
	}
	id := len(t.texts)
	t.texts = append(t.texts, s)
	t.byText[s] = id
	return id
}

func (t *internTable) lookup(id int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.texts) {
		return ""
	}
	return t.texts[id]
}
