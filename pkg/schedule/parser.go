// Package schedule разбирает язык расписаний промпта и строит из него
// последовательность сегментов по проценту выполнения сэмплинга.
//
// Поддерживаемые конструкции:
//
//	[before:after:0.3]        - переключение текста на 30%
//	[text:0.3]                - текст появляется после 30%
//	[text::0.3]               - текст исчезает после 30%
//	[a|b|c]  [a|b:0.2]        - чередование с шагом (дефолт 0.1)
//	[from:to:0.1,0.5]         - интерполяция по контрольным точкам
//	[from:to:0.1,0.5:0.05]    - интерполяция с явным шагом
//	[text:TAG]                - текст активен только при включённом теге
//	<lora:name:w>             - LoRA; <lora:name:w:w_clip> задаёт клип-вес
//
// Парсер лояльный: скобочная группа, не подходящая ни под одну
// конструкцию, остаётся в тексте как есть. Разбор выполняется в
// типизированное дерево узлов, семантика применяется только при
// резолвинге дерева в конкретный процент.
package schedule

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// node - узел разобранного текста промпта.
//
// resolve дописывает текст узла для момента pct в sb.
// points сообщает все проценты, в которых текст узла меняется.
// interps сообщает вложенные интерполяции.
type node interface {
	resolve(pct float64, filters map[string]bool, sb *strings.Builder)
	points(add func(float64))
	interps(add func(InterpolationSpec))
}

// textNode - простой текст без конструкций.
type textNode string

func (n textNode) resolve(_ float64, _ map[string]bool, sb *strings.Builder) {
	sb.WriteString(string(n))
}
func (n textNode) points(func(float64))            {}
func (n textNode) interps(func(InterpolationSpec)) {}

// groupNode - последовательность узлов.
type groupNode []node

func (g groupNode) resolve(pct float64, filters map[string]bool, sb *strings.Builder) {
	for _, n := range g {
		n.resolve(pct, filters, sb)
	}
}

func (g groupNode) points(add func(float64)) {
	for _, n := range g {
		n.points(add)
	}
}

func (g groupNode) interps(add func(InterpolationSpec)) {
	for _, n := range g {
		n.interps(add)
	}
}

// switchNode - [before:after:at]. before активен на (0, at], after дальше.
type switchNode struct {
	before groupNode
	after  groupNode
	at     float64
}

func (n *switchNode) resolve(pct float64, filters map[string]bool, sb *strings.Builder) {
	if pct <= n.at {
		n.before.resolve(pct, filters, sb)
		return
	}
	n.after.resolve(pct, filters, sb)
}

func (n *switchNode) points(add func(float64)) {
	add(n.at)
	n.before.points(add)
	n.after.points(add)
}

func (n *switchNode) interps(add func(InterpolationSpec)) {
	n.before.interps(add)
	n.after.interps(add)
}

// altNode - [a|b|c]: чередование вариантов с шагом step.
type altNode struct {
	options []groupNode
	step    float64
}

func (n *altNode) resolve(pct float64, filters map[string]bool, sb *strings.Builder) {
	k := int(math.Ceil(pct/n.step-1e-9)) - 1
	if k < 0 {
		k = 0
	}
	n.options[k%len(n.options)].resolve(pct, filters, sb)
}

func (n *altNode) points(add func(float64)) {
	for k := 1; float64(k)*n.step < 1.0-1e-9; k++ {
		add(float64(k) * n.step)
	}
	for _, o := range n.options {
		o.points(add)
	}
}

func (n *altNode) interps(add func(InterpolationSpec)) {
	for _, o := range n.options {
		o.interps(add)
	}
}

// interpNode - [from:to:p1,...,pn(:step)]: линейная интерполяция
// кондиционирования между from и to по контрольным точкам.
//
// Текст переключается на первой контрольной точке: там энкодится from,
// на последующих точках to. Само смешивание тензоров выполняет
// оркестратор по списку Interpolations.
type interpNode struct {
	from groupNode
	to   groupNode
	pts  []float64
	step float64
}

func (n *interpNode) resolve(pct float64, filters map[string]bool, sb *strings.Builder) {
	if pct <= n.pts[0] {
		n.from.resolve(pct, filters, sb)
		return
	}
	n.to.resolve(pct, filters, sb)
}

func (n *interpNode) points(add func(float64)) {
	for _, p := range n.pts {
		add(p)
	}
	n.from.points(add)
	n.to.points(add)
}

func (n *interpNode) interps(add func(InterpolationSpec)) {
	add(InterpolationSpec{ControlPoints: append([]float64(nil), n.pts...), Step: n.step})
	n.from.interps(add)
	n.to.interps(add)
}

// tagNode - [text:TAG]: текст активен только если тег включён фильтром.
type tagNode struct {
	body groupNode
	tag  string
}

func (n *tagNode) resolve(pct float64, filters map[string]bool, sb *strings.Builder) {
	if filters[n.tag] {
		n.body.resolve(pct, filters, sb)
	}
}

func (n *tagNode) points(add func(float64)) {
	n.body.points(add)
}

func (n *tagNode) interps(add func(InterpolationSpec)) {
	n.body.interps(add)
}

// DefaultStep - шаг чередования по умолчанию; та же величина служит
// последним запасным шагом интерполяции у потребителей расписания.
const DefaultStep = 0.1

var tagRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// parseGroup разбирает текст в последовательность узлов.
func parseGroup(s string) groupNode {
	var nodes groupNode
	for len(s) > 0 {
		i := strings.IndexByte(s, '[')
		if i < 0 {
			nodes = append(nodes, textNode(s))
			break
		}
		j := matchBracket(s, i)
		if j < 0 {
			// Непарная скобка - оставляем как текст
			nodes = append(nodes, textNode(s))
			break
		}
		if i > 0 {
			nodes = append(nodes, textNode(s[:i]))
		}
		nodes = append(nodes, parseBracket(s[i+1:j], s[i:j+1]))
		s = s[j+1:]
	}
	return nodes
}

// parseBracket пытается распознать конструкцию внутри скобок.
// raw - исходный текст вместе со скобками для лояльного отката.
func parseBracket(inner, raw string) node {
	parts := splitTop(inner, ':')

	switch len(parts) {
	case 1:
		if opts := splitTop(inner, '|'); len(opts) > 1 {
			return newAlt(opts, DefaultStep)
		}
	case 2:
		if opts := splitTop(parts[0], '|'); len(opts) > 1 {
			if step, ok := parseFloat(parts[1]); ok && step > 0 {
				return newAlt(opts, step)
			}
			return textNode(raw)
		}
		if at, ok := parseFloat(parts[1]); ok {
			return &switchNode{before: nil, after: parseGroup(parts[0]), at: at}
		}
		if tag := strings.TrimSpace(parts[1]); tagRe.MatchString(tag) {
			return &tagNode{body: parseGroup(parts[0]), tag: strings.ToLower(tag)}
		}
	case 3:
		if at, ok := parseFloat(parts[2]); ok {
			return &switchNode{before: parseGroup(parts[0]), after: parseGroup(parts[1]), at: at}
		}
		if pts, ok := parseFloatList(parts[2]); ok && len(pts) >= 2 {
			// Нулевой шаг - "не задан", потребитель подставит свой
			return newInterp(parts[0], parts[1], pts, 0)
		}
	case 4:
		pts, ok := parseFloatList(parts[2])
		step, ok2 := parseFloat(parts[3])
		if ok && len(pts) >= 2 && ok2 && step > 0 {
			return newInterp(parts[0], parts[1], pts, step)
		}
	}
	return textNode(raw)
}

func newAlt(opts []string, step float64) *altNode {
	n := &altNode{step: step}
	for _, o := range opts {
		n.options = append(n.options, parseGroup(o))
	}
	return n
}

func newInterp(from, to string, pts []float64, step float64) *interpNode {
	sorted := append([]float64(nil), pts...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &interpNode{from: parseGroup(from), to: parseGroup(to), pts: sorted, step: step}
}

// matchBracket возвращает индекс ']' парной к '[' на позиции i, или -1.
func matchBracket(s string, i int) int {
	depth := 0
	for ; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop разбивает строку по sep на нулевой глубине скобок [] и <>.
// Угловые скобки защищают двоеточия внутри <lora:...> тегов.
func splitTop(s string, sep byte) []string {
	var parts []string
	bracket, angle := 0, 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			bracket++
		case ']':
			if bracket > 0 {
				bracket--
			}
		case '<':
			angle++
		case '>':
			if angle > 0 {
				angle--
			}
		case sep:
			if bracket == 0 && angle == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func parseFloatList(s string) ([]float64, bool) {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		f, ok := parseFloat(p)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
