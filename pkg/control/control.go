// Package control превращает расписание промптов в итоговый список
// сегментов кондиционирования.
//
// Оркестратор идёт по окнам расписания слева направо. Окна, накрытые
// переходом, заполняет интерполятор, остальные получают энкодинг своего
// сегмента со штампом границ. Результаты энкодинга кэшируются по ключу
// "текст + состояние LoRA", переключение LoRA всегда начинается с
// чистого клона исходного хэндла.
package control

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ilkoid/condsched/pkg/cache"
	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/debug"
	"github.com/ilkoid/condsched/pkg/encoder"
	"github.com/ilkoid/condsched/pkg/interp"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/ilkoid/condsched/pkg/schedule"
	"github.com/ilkoid/condsched/pkg/utils"
)

// Options - зависимости и настройки энкодинга расписания.
//
// Нулевые поля заменяются безопасными дефолтами: кэш в памяти, пустой
// кэш LoRA, выключенный рекордер.
type Options struct {
	// Defaults - сегментные дефолты энкодера (стиль, нормализация,
	// размер маски).
	Defaults encoder.Defaults

	// Step - шаг интерполяции для переходов без собственного шага.
	// Ноль означает шаг парсера (0.1).
	Step float64

	// Cache - кэш сегментов кондиционирования.
	Cache cache.CondCache

	// Loras - кэш загруженных LoRA файлов.
	Loras *lora.Cache

	// Recorder - рекордер трейса прогона.
	Recorder *debug.Recorder
}

// EncodeSchedule энкодит расписание в сегменты кондиционирования.
//
// Каждый возвращаемый сегмент несёт окно [start_percent, end_percent) и
// текст сегмента расписания в Prompt. Сегменты возвращаются в порядке
// обхода окон, внутри окна порядок задаёт энкодер.
func EncodeSchedule(ctx context.Context, h encoder.Handle, sched *schedule.PromptSchedule, opts Options) ([]cond.Segment, error) {
	timer := utils.StartTimer("encode schedule")
	defer timer.Stop()

	state := newEncodeState(h, opts)
	state.loras.LoadAll(ctx, sched.LoraNames())

	startPct := 0.0
	var conds []cond.Segment
	for _, entry := range sched.Entries {
		endPct := entry.End

		// 1. Переходы, пересекающие окно [startPct, endPct)
		var overlapping []schedule.InterpolationSpec
		for _, spec := range sched.Interpolations {
			if (startPct >= spec.First() && startPct < spec.Last()) ||
				(endPct > spec.First() && startPct < spec.Last()) {
				overlapping = append(overlapping, spec)
			}
		}

		// 2. Накрытая переходами часть окна уходит интерполятору.
		// Шаг общий для всех пересекающихся переходов - минимальный
		newStartPct := startPct
		if len(overlapping) > 0 {
			minStep := stepOrDefault(overlapping[0].Step, opts.Step)
			for _, spec := range overlapping[1:] {
				if s := stepOrDefault(spec.Step, opts.Step); s < minStep {
					minStep = s
				}
			}
			for _, spec := range overlapping {
				iEnd := math.Min(spec.Last(), endPct)
				iStart := math.Max(spec.First(), startPct)

				points, err := interp.ControlPoints(sched, spec.ControlPoints, state.encodeFunc(ctx))
				if err != nil {
					return nil, err
				}
				cs, err := interp.Interpolate(points, minStep, iStart, iEnd)
				if err != nil {
					return nil, err
				}
				for _, s := range cs {
					state.rec.RecordWindow(debug.Window{
						Start:        s.Meta.StartPercent,
						End:          s.Meta.EndPercent,
						Prompt:       s.Meta.Prompt,
						Interpolated: true,
						Segments:     1,
					})
				}
				conds = append(conds, cs...)
				if iEnd > newStartPct {
					newStartPct = iEnd
				}
			}
		}
		startPct = newStartPct

		// 3. Остаток окна - обычный сегмент со штампом границ
		if startPct < endPct {
			segs, err := state.encode(ctx, entry.Config)
			if err != nil {
				return nil, err
			}
			for _, s := range segs {
				meta := s.Meta
				meta.StartPercent = utils.Round2(startPct)
				meta.EndPercent = utils.Round2(endPct)
				meta.Prompt = entry.Config.Prompt
				conds = append(conds, cond.Segment{Cond: s.Cond, Meta: meta})
			}
			state.rec.RecordWindow(debug.Window{
				Start:    utils.Round2(startPct),
				End:      utils.Round2(endPct),
				Prompt:   entry.Config.Prompt,
				Segments: len(segs),
			})
		}

		startPct = endPct
		utils.Debug("conds so far", "summary", cond.Summary(conds))
	}

	utils.Debug("final cond info", "summary", cond.Summary(conds))
	return conds, nil
}

// EncodePromptText энкодит один текст с директивами без расписания.
//
// Одноразовый аналог EncodeSchedule: без кэша и переключений LoRA, все
// сегменты получают окно [0, 1] и исходный текст в Prompt.
func EncodePromptText(ctx context.Context, h encoder.Handle, text string, d encoder.Defaults) ([]cond.Segment, error) {
	segs, err := encoder.DoEncode(ctx, h, text, d)
	if err != nil {
		return nil, err
	}
	out := make([]cond.Segment, 0, len(segs))
	for _, s := range segs {
		meta := s.Meta
		meta.StartPercent = 0
		meta.EndPercent = 1
		meta.Prompt = text
		out = append(out, cond.Segment{Cond: s.Cond, Meta: meta})
	}
	return out, nil
}

// encodeState - состояние энкодинга одного расписания.
//
// Держит активный хэндл с применёнными LoRA и чистый клон исходного:
// каждое переключение LoRA начинается с клона, а не с доката поверх
// предыдущего состояния.
type encodeState struct {
	base         encoder.Handle
	orig         encoder.Handle
	currentLoras map[string]schedule.LoraSpec
	cache        cache.CondCache
	loras        *lora.Cache
	defaults     encoder.Defaults
	rec          *debug.Recorder
}

func newEncodeState(h encoder.Handle, opts Options) *encodeState {
	c := opts.Cache
	if c == nil {
		c = cache.NewMemory()
	}
	lc := opts.Loras
	if lc == nil {
		lc = lora.NewCache(nil)
	}
	return &encodeState{
		base:         h,
		orig:         h.Clone(),
		currentLoras: map[string]schedule.LoraSpec{},
		cache:        c,
		loras:        lc,
		defaults:     opts.Defaults,
		rec:          opts.Recorder,
	}
}

// encodeFunc привязывает контекст к энкодингу для интерполятора.
func (s *encodeState) encodeFunc(ctx context.Context) interp.EncodeFunc {
	return func(cfg schedule.SegmentConfig) ([]cond.Segment, error) {
		return s.encode(ctx, cfg)
	}
}

// encode возвращает сегменты для конфигурации, при промахе кэша энкодит.
func (s *encodeState) encode(ctx context.Context, cfg schedule.SegmentConfig) ([]cond.Segment, error) {
	key := cacheKey(cfg)
	if segs, ok := s.cache.Get(key); ok {
		utils.Debug("cond cache hit", "prompt", cfg.Prompt)
		s.rec.RecordEncode(debug.EncodeEvent{Prompt: cfg.Prompt, CacheHit: true, Segments: len(segs)})
		return segs, nil
	}

	started := time.Now()
	if !schedule.LorasEqual(cfg.Loras, s.currentLoras) {
		if err := s.switchLoras(ctx, cfg.Loras); err != nil {
			return nil, err
		}
	}
	segs, err := encoder.DoEncode(ctx, s.base, cfg.Prompt, s.defaults)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		s.rec.RecordEncode(debug.EncodeEvent{Prompt: cfg.Prompt, Duration: elapsed, Error: err.Error()})
		return nil, fmt.Errorf("encoding segment %q: %w", cfg.Prompt, err)
	}
	s.rec.RecordEncode(debug.EncodeEvent{Prompt: cfg.Prompt, Segments: len(segs), Duration: elapsed})
	s.cache.Put(key, segs)
	return segs, nil
}

// switchLoras пересобирает активный хэндл под новый набор LoRA.
//
// Отсутствующие в источнике LoRA пропускаются с предупреждением,
// расписание продолжает работать без них. Нулевой клип-вес тоже
// пропуск: патчить нечего.
func (s *encodeState) switchLoras(ctx context.Context, specs map[string]schedule.LoraSpec) error {
	started := time.Now()
	handle := s.orig.Clone()

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		spec := specs[name]
		w, ok := s.loras.Get(name)
		if !ok {
			utils.Warn("lora not loaded, skipping", "lora", name)
			missing = append(missing, name)
			continue
		}
		if spec.WeightClip == 0 {
			continue
		}
		if err := lora.Apply(ctx, handle, w, spec.WeightClip); err != nil {
			return fmt.Errorf("applying lora %s: %w", name, err)
		}
		utils.Info("clip lora applied", "lora", name, "weight", spec.WeightClip)
	}

	s.base = handle
	s.currentLoras = specs
	s.rec.RecordLoraSwitch(debug.LoraSwitch{
		Names:    names,
		Missing:  missing,
		Duration: time.Since(started).Milliseconds(),
	})
	return nil
}

// stepOrDefault - шаг перехода с учётом запасного значения из опций.
func stepOrDefault(step, fallback float64) float64 {
	if step > 0 {
		return step
	}
	if fallback > 0 {
		return fallback
	}
	return schedule.DefaultStep
}

// cacheKey - ключ кэша сегмента: текст плюс отсортированные имена LoRA с
// клип-весами. Одинаковый текст с разным состоянием LoRA не столкнётся.
func cacheKey(cfg schedule.SegmentConfig) string {
	names := make([]string, 0, len(cfg.Loras))
	for name := range cfg.Loras {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(cfg.Prompt)
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteString(strconv.FormatFloat(cfg.Loras[name].WeightClip, 'g', -1, 64))
	}
	return sb.String()
}
