package schedule

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ilkoid/condsched/pkg/utils"
)

// LoraSpec - веса LoRA, заявленные тегом <lora:name:w(:w_clip)>.
type LoraSpec struct {
	Weight     float64
	WeightClip float64
}

// SegmentConfig - текст и набор LoRA одного окна расписания.
type SegmentConfig struct {
	Prompt string
	Loras  map[string]LoraSpec
}

// Entry - окно расписания (prevEnd, End] с его конфигурацией.
type Entry struct {
	End    float64
	Config SegmentConfig
}

// InterpolationSpec - интерполяция кондиционирования: контрольные точки
// по возрастанию и шаг эмиссии сегментов. Нулевой Step означает, что
// явного шага в промпте не было.
type InterpolationSpec struct {
	ControlPoints []float64
	Step          float64
}

// First возвращает первую контрольную точку.
func (i InterpolationSpec) First() float64 { return i.ControlPoints[0] }

// Last возвращает последнюю контрольную точку.
func (i InterpolationSpec) Last() float64 { return i.ControlPoints[len(i.ControlPoints)-1] }

// PromptSchedule - разобранное расписание промпта.
//
// Инварианты: Entries отсортированы по End строго по возрастанию,
// последний End всегда равен 1.0, окна покрывают (0, 1] без дыр
// и пересечений.
type PromptSchedule struct {
	Entries        []Entry
	Interpolations []InterpolationSpec

	source  string
	filters map[string]bool
}

// Parse разбирает текст расписания без фильтров тегов.
func Parse(text string) *PromptSchedule {
	return ParseWithFilters(text, "")
}

// ParseWithFilters разбирает текст расписания с набором включённых тегов.
// Фильтры задаются строкой вида "hr, final" (регистр не важен).
func ParseWithFilters(text, filterTags string) *PromptSchedule {
	s := &PromptSchedule{source: text, filters: parseFilters(filterTags)}
	root := parseGroup(text)

	// 1. Собираем точки переключения текста
	pointSet := map[float64]bool{}
	root.points(func(p float64) {
		p = utils.Round2(p)
		if p > 0 && p < 1 {
			pointSet[p] = true
		}
	})
	points := make([]float64, 0, len(pointSet)+1)
	for p := range pointSet {
		points = append(points, p)
	}
	sort.Float64s(points)
	points = append(points, 1.0)

	// 2. Резолвим текст каждого окна в его конечной точке
	for _, p := range points {
		var sb strings.Builder
		root.resolve(p, s.filters, &sb)
		prompt, loras := extractLoras(sb.String())
		s.Entries = append(s.Entries, Entry{End: p, Config: SegmentConfig{Prompt: prompt, Loras: loras}})
	}

	// 3. Склеиваем соседние окна с одинаковой конфигурацией
	s.Entries = mergeEntries(s.Entries)

	// 4. Интерполяции с округлёнными контрольными точками
	root.interps(func(spec InterpolationSpec) {
		for i, p := range spec.ControlPoints {
			spec.ControlPoints[i] = utils.Round2(p)
		}
		s.Interpolations = append(s.Interpolations, spec)
	})

	utils.Debug("parsed prompt schedule",
		"entries", len(s.Entries),
		"interpolations", len(s.Interpolations),
	)
	return s
}

// WithFilters возвращает расписание того же текста с другим набором тегов.
func (s *PromptSchedule) WithFilters(filterTags string) *PromptSchedule {
	return ParseWithFilters(s.source, filterTags)
}

// At возвращает окно, в которое попадает процент pct.
// Значения pct > 1 дают последнее окно.
func (s *PromptSchedule) At(pct float64) Entry {
	for _, e := range s.Entries {
		if e.End >= pct {
			return e
		}
	}
	return s.Entries[len(s.Entries)-1]
}

// LoraNames возвращает отсортированные имена всех LoRA расписания.
func (s *PromptSchedule) LoraNames() []string {
	seen := map[string]bool{}
	for _, e := range s.Entries {
		for name := range e.Config.Loras {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String - краткий дамп расписания для логов и отладки.
func (s *PromptSchedule) String() string {
	var sb strings.Builder
	for i, e := range s.Entries {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "[..%.2f] %q", e.End, strings.TrimSpace(e.Config.Prompt))
		if len(e.Config.Loras) > 0 {
			fmt.Fprintf(&sb, " +%d lora", len(e.Config.Loras))
		}
	}
	return sb.String()
}

// LorasEqual сравнивает два набора LoRA-весов.
func LorasEqual(a, b map[string]LoraSpec) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || w != v {
			return false
		}
	}
	return true
}

// loraRe - тег <lora:name:weight> или <lora:name:weight:weight_clip>.
var loraRe = regexp.MustCompile(`<lora:([^:<>]+)(?::(-?[0-9.]+))?(?::(-?[0-9.]+))?>`)

// extractLoras снимает LoRA-теги с текста и собирает их веса.
// Клип-вес по умолчанию равен весу модели. Повторный тег с тем же
// именем перекрывает предыдущий.
func extractLoras(text string) (string, map[string]LoraSpec) {
	matches := loraRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	loras := make(map[string]LoraSpec, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		spec := LoraSpec{Weight: 1.0, WeightClip: 1.0}
		if m[2] != "" {
			spec.Weight = parseFloatOr(m[2], 1.0)
			spec.WeightClip = spec.Weight
		}
		if m[3] != "" {
			spec.WeightClip = parseFloatOr(m[3], spec.Weight)
		}
		loras[name] = spec
	}
	return loraRe.ReplaceAllString(text, ""), loras
}

func parseFloatOr(s string, def float64) float64 {
	f, ok := parseFloat(s)
	if !ok {
		return def
	}
	return f
}

// mergeEntries склеивает соседние окна с одинаковым промптом и LoRA.
func mergeEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	out := entries[:1]
	for _, e := range entries[1:] {
		last := &out[len(out)-1]
		if e.Config.Prompt == last.Config.Prompt && LorasEqual(e.Config.Loras, last.Config.Loras) {
			last.End = e.End
			continue
		}
		out = append(out, e)
	}
	return out
}

func parseFilters(filterTags string) map[string]bool {
	filters := map[string]bool{}
	for _, t := range strings.FieldsFunc(filterTags, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		filters[strings.ToLower(t)] = true
	}
	return filters
}
