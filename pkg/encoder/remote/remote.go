// Package remote реализует encoder.Handle поверх websocket-сайдкара.
//
// Сайдкар держит настоящую клип-модель и отвечает на JSON-запросы вида
// {"id": N, "op": "...", "params": {...}}. Каждому хэндлу соответствует
// серверная сессия: клонирование хэндла создаёт новую сессию, так что
// LoRA-патчи клонов не пересекаются. Все клоны разделяют одно
// websocket-соединение, запросы сериализуются мьютексом.
//
// Операции протокола: info, tokenize, encode, apply_lora, clone,
// close_session, ping.
package remote

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ilkoid/condsched/pkg/encoder"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/ilkoid/condsched/pkg/tensor"
	"github.com/ilkoid/condsched/pkg/utils"
)

// Config - параметры подключения к сайдкару.
type Config struct {
	// URL вида ws://host:port/encoder.
	URL string
	// Limit - ограничение частоты запросов в секунду. Ноль отключает
	// лимитер.
	Limit float64
	// Burst - размер всплеска лимитера.
	Burst int
	// Timeout - таймаут одного запроса.
	Timeout time.Duration
}

// Client - encoder.Handle, живущий в websocket-сайдкаре.
//
// Не потокобезопасен на уровне сессии: один клиент - одна
// последовательность запросов. Параллельным потокам нужны клоны.
type Client struct {
	core    *core
	session string
	family  encoder.Family
	dim     int
	keyMap  lora.KeyMap

	// cloneErr помнит ошибку неудачного клонирования. Интерфейсный
	// Clone не возвращает ошибку, поэтому она всплывает при первом же
	// вызове клона.
	cloneErr error
}

// core - общее для всех клонов состояние соединения.
type core struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	limiter *rate.Limiter
	timeout time.Duration
	nextID  int64
}

var _ encoder.Handle = (*Client)(nil)

type request struct {
	ID     int64       `json:"id"`
	Op     string      `json:"op"`
	Params interface{} `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type wireToken struct {
	ID     int     `json:"id"`
	Weight float64 `json:"weight"`
	WordID int     `json:"word_id,omitempty"`
}

type wireRegion struct {
	Text            string `json:"text"`
	Target          string `json:"target"`
	Weight          string `json:"weight"`
	StrictMask      string `json:"strict_mask"`
	StartFromMasked string `json:"start_from_masked"`
	MaskToken       string `json:"mask_token"`
}

type wireTensor struct {
	Dtype string `json:"dtype"`
	Shape []int  `json:"shape"`
	// Data - little-endian float32, base64.
	Data string `json:"data"`
}

type infoResult struct {
	Session string            `json:"session"`
	Family  string            `json:"family"`
	Dim     int               `json:"dim"`
	KeyMap  map[string]string `json:"key_map"`
}

// Dial подключается к сайдкару и открывает корневую сессию.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing encoder sidecar %s: %w", cfg.URL, err)
	}

	c := &core{conn: conn, timeout: cfg.Timeout}
	if cfg.Limit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Limit), burst)
	}

	var info infoResult
	if err := c.call(ctx, "info", nil, &info); err != nil {
		conn.Close()
		return nil, fmt.Errorf("querying encoder info: %w", err)
	}
	family, err := parseFamily(info.Family)
	if err != nil {
		conn.Close()
		return nil, err
	}
	utils.Info("connected to encoder sidecar",
		"url", cfg.URL, "family", info.Family, "dim", info.Dim, "session", info.Session)
	return &Client{
		core:    c,
		session: info.Session,
		family:  family,
		dim:     info.Dim,
		keyMap:  lora.KeyMap(info.KeyMap),
	}, nil
}

func parseFamily(s string) (encoder.Family, error) {
	switch s {
	case "standard":
		return encoder.FamilyStandard, nil
	case "dual":
		return encoder.FamilyDual, nil
	default:
		return 0, fmt.Errorf("unknown encoder family %q", s)
	}
}

// call выполняет один запрос-ответ. Соединение держит один запрос в
// полёте, поэтому первый же ответ с нашим id - наш.
func (c *core) call(ctx context.Context, op string, params interface{}, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := request{ID: c.nextID, Op: op, Params: params}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending %s: %w", op, err)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	var resp response
	for {
		if err := c.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("reading %s response: %w", op, err)
		}
		if resp.ID == req.ID {
			break
		}
		// Ответ на уже брошенный по таймауту запрос
		utils.Debug("discarding stale sidecar response", "id", resp.ID, "want", req.ID)
	}
	if !resp.OK {
		return fmt.Errorf("sidecar %s failed: %s", op, resp.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// Tokenize запрашивает токенизацию у сайдкара.
func (cl *Client) Tokenize(ctx context.Context, text string, wordIDs bool) (encoder.Tokens, error) {
	if cl.cloneErr != nil {
		return nil, cl.cloneErr
	}
	params := map[string]interface{}{
		"session":  cl.session,
		"text":     text,
		"word_ids": wordIDs,
	}
	var result struct {
		Tokens map[string][][]wireToken `json:"tokens"`
	}
	if err := cl.core.call(ctx, "tokenize", params, &result); err != nil {
		return nil, err
	}
	tokens := make(encoder.Tokens, len(result.Tokens))
	for ch, chunks := range result.Tokens {
		converted := make([]encoder.Chunk, 0, len(chunks))
		for _, chunk := range chunks {
			c := make(encoder.Chunk, 0, len(chunk))
			for _, t := range chunk {
				c = append(c, encoder.Token{ID: t.ID, Weight: t.Weight, WordID: t.WordID})
			}
			converted = append(converted, c)
		}
		tokens[encoder.Channel(ch)] = converted
	}
	return tokens, nil
}

// EncodeFromTokens энкодит токены на сайдкаре.
func (cl *Client) EncodeFromTokens(ctx context.Context, t encoder.Tokens, returnPooled bool, opts encoder.EncodeOpts) (*tensor.Tensor, tensor.Vector, error) {
	if cl.cloneErr != nil {
		return nil, nil, cl.cloneErr
	}
	wire := make(map[string][][]wireToken, len(t))
	for ch, chunks := range t {
		converted := make([][]wireToken, 0, len(chunks))
		for _, chunk := range chunks {
			c := make([]wireToken, 0, len(chunk))
			for _, tok := range chunk {
				c = append(c, wireToken{ID: tok.ID, Weight: tok.Weight, WordID: tok.WordID})
			}
			converted = append(converted, c)
		}
		wire[string(ch)] = converted
	}
	regions := make([]wireRegion, 0, len(opts.Regions))
	for _, r := range opts.Regions {
		regions = append(regions, wireRegion{
			Text:            r.Text,
			Target:          r.Target,
			Weight:          r.Weight,
			StrictMask:      r.StrictMask,
			StartFromMasked: r.StartFromMasked,
			MaskToken:       r.MaskToken,
		})
	}
	params := map[string]interface{}{
		"session":       cl.session,
		"tokens":        wire,
		"return_pooled": returnPooled,
		"style":         opts.Style,
		"normalization": opts.Normalization,
		"regions":       regions,
	}
	var result struct {
		Cond   [][]float32 `json:"cond"`
		Pooled []float32   `json:"pooled,omitempty"`
	}
	if err := cl.core.call(ctx, "encode", params, &result); err != nil {
		return nil, nil, err
	}
	cond, err := tensor.FromRows(result.Cond)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed cond tensor from sidecar: %w", err)
	}
	return cond, tensor.Vector(result.Pooled), nil
}

// ApplyLora передаёт тензоры LoRA сайдкару для патча текущей сессии.
func (cl *Client) ApplyLora(ctx context.Context, name string, w *lora.Weights, clipScale float64) error {
	if cl.cloneErr != nil {
		return cl.cloneErr
	}
	tensors := make(map[string]wireTensor, len(w.Tensors))
	for key, td := range w.Tensors {
		tensors[key] = wireTensor{
			Dtype: "F32",
			Shape: td.Shape,
			Data:  encodeFloats(td.Data),
		}
	}
	params := map[string]interface{}{
		"session":    cl.session,
		"name":       name,
		"clip_scale": clipScale,
		"tensors":    tensors,
	}
	return cl.core.call(ctx, "apply_lora", params, nil)
}

// KeyMap возвращает таблицу ключей модели, полученную при подключении.
func (cl *Client) KeyMap() lora.KeyMap {
	return cl.keyMap
}

// Family возвращает семейство модели сайдкара.
func (cl *Client) Family() encoder.Family {
	return cl.family
}

// Clone открывает новую серверную сессию с копией состояния текущей.
//
// Интерфейс не позволяет вернуть ошибку, поэтому при неудаче возвращается
// клиент с отложенной ошибкой: любой его вызов вернёт её.
func (cl *Client) Clone() encoder.Handle {
	cp := &Client{
		core:   cl.core,
		family: cl.family,
		dim:    cl.dim,
		keyMap: cl.keyMap,
	}
	if cl.cloneErr != nil {
		cp.cloneErr = cl.cloneErr
		return cp
	}

	ctx, cancel := context.WithTimeout(context.Background(), cl.core.timeout)
	defer cancel()
	var result struct {
		Session string `json:"session"`
	}
	err := cl.core.call(ctx, "clone", map[string]interface{}{"session": cl.session}, &result)
	if err != nil {
		utils.Error("cloning encoder session failed", "error", err)
		cp.cloneErr = fmt.Errorf("cloning encoder session: %w", err)
		return cp
	}
	cp.session = result.Session
	return cp
}

// Ping проверяет живость сайдкара.
func (cl *Client) Ping(ctx context.Context) error {
	return cl.core.call(ctx, "ping", nil, nil)
}

// CloseSession освобождает серверную сессию клона. Соединение остаётся
// открытым для остальных клонов.
func (cl *Client) CloseSession(ctx context.Context) error {
	if cl.cloneErr != nil {
		return nil
	}
	return cl.core.call(ctx, "close_session", map[string]interface{}{"session": cl.session}, nil)
}

// Close закрывает websocket. После него не работают все клоны.
func (cl *Client) Close() error {
	cl.core.mu.Lock()
	defer cl.core.mu.Unlock()
	return cl.core.conn.Close()
}

// encodeFloats упаковывает float32 в little-endian base64.
func encodeFloats(data []float32) string {
	buf := make([]byte, 4*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
