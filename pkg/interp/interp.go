// Package interp строит плавные переходы между сегментами
// кондиционирования.
//
// Переход задаётся контрольными точками: процент расписания плюс
// закодированные сегменты промпта в этой точке. Между соседними точками
// кондиционирование интерполируется линейно с шагом step, каждый шаг
// занимает своё окно [start_percent, end_percent) и несёт смесь
// (1-factor)*start + factor*end.
package interp

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/schedule"
	"github.com/ilkoid/condsched/pkg/tensor"
	"github.com/ilkoid/condsched/pkg/utils"
)

// ControlPoint - закодированное состояние промпта в точке расписания.
type ControlPoint struct {
	Pct      float64
	Segments []cond.Segment
}

// EncodeFunc энкодит конфигурацию сегмента расписания. Реализация сама
// решает, как применять LoRA и кэшировать результат.
type EncodeFunc func(cfg schedule.SegmentConfig) ([]cond.Segment, error)

// ControlPoints энкодит контрольные точки перехода.
//
// К заданным точкам добавляются границы сегментов расписания, попавшие
// в [pcts[0], pcts[len-1]]: на границе меняется текст, и без
// дополнительной точки переход прошёл бы мимо смены. Результат
// отсортирован по проценту, дубликаты схлопнуты.
func ControlPoints(sched *schedule.PromptSchedule, pcts []float64, encode EncodeFunc) ([]ControlPoint, error) {
	if len(pcts) < 2 {
		return nil, fmt.Errorf("interpolation needs at least two control points, got %d", len(pcts))
	}

	seen := make(map[float64]struct{}, len(pcts))
	all := make([]float64, 0, len(pcts))
	add := func(p float64) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			all = append(all, p)
		}
	}
	for _, p := range pcts {
		add(p)
	}
	first, last := pcts[0], pcts[len(pcts)-1]
	for _, e := range sched.Entries {
		if e.End >= first && e.End <= last {
			add(e.End)
		}
	}
	sort.Float64s(all)
	utils.Debug("control points for interpolation",
		"points", fmt.Sprintf("%v", all), "given", fmt.Sprintf("%v", pcts))

	points := make([]ControlPoint, 0, len(all))
	for _, p := range all {
		segs, err := encode(sched.At(p).Config)
		if err != nil {
			return nil, fmt.Errorf("encoding control point %v: %w", p, err)
		}
		points = append(points, ControlPoint{Pct: p, Segments: segs})
	}
	return points, nil
}

// Interpolate проходит пары соседних контрольных точек и склеивает их
// переходы в один список сегментов.
//
// Пары левее startPct пропускаются, первая пара с началом за endPct
// обрывает проход. Пара, не давшая ни одного шага, тоже обрывает: дальше
// шагов не будет тем более.
func Interpolate(points []ControlPoint, step, startPct, endPct float64) ([]cond.Segment, error) {
	if len(points) == 0 {
		return nil, nil
	}
	oStart := points[0].Pct
	oEnd := points[len(points)-1].Pct
	tStart := points[0].Pct
	start := points[0].Segments

	var conds []cond.Segment
	for _, p := range points[1:] {
		tEnd, end := p.Pct, p.Segments
		if tStart < startPct {
			tStart, start = tEnd, end
			continue
		}
		if tStart >= endPct {
			break
		}
		cs, err := InterpolateSegments(start, end, oStart, oEnd, step, tStart, endPct)
		if err != nil {
			return nil, err
		}
		if len(cs) == 0 {
			break
		}
		conds = append(conds, cs...)
		tStart, start = tEnd, end
	}
	return conds, nil
}

// InterpolateSegments линейно интерполирует две группы сегментов.
//
// Сегменты сопоставляются по индексу, лишние отбрасываются. Шаги
// нумеруются на сетке полного перехода [fromStep, toStep], но эмитятся
// только попавшие в [startAt, endAt). Метаданные каждого шага копируются
// из стартового сегмента, prompt заменяется меткой вида
// "linear:0.7 / 0.3". Окно последнего шага дотягивается до endAt.
func InterpolateSegments(start, end []cond.Segment, fromStep, toStep, step, startAt, endAt float64) ([]cond.Segment, error) {
	count := len(start)
	if len(end) < count {
		count = len(end)
	}
	if len(start) != len(end) {
		utils.Info("interpolation endpoints have different segment counts",
			"start", len(start), "end", len(end), "interpolating", count)
	}

	var all []cond.Segment
	for idx := 0; idx < count; idx++ {
		eq, err := tensor.Equalize(start[idx].Cond, end[idx].Cond)
		if err != nil {
			return nil, err
		}
		fromCond, toCond := eq[0], eq[1]
		fromPooled := start[idx].Meta.Pooled
		toPooled := end[idx].Meta.Pooled
		if fromPooled != nil && toPooled != nil {
			eqp := tensor.EqualizeVectors(fromPooled, toPooled)
			fromPooled, toPooled = eqp[0], eqp[1]
		}

		totalSteps := int(math.Round((toStep - fromStep) / step))
		numSteps := int(math.Round((endAt - fromStep) / step))
		startOn := int(math.Round((startAt - fromStep) / step))
		startPct := startAt
		utils.Debug("interpolating cond pair",
			"idx", idx, "from", fromStep, "to", toStep, "start_at", startAt, "end_at", endAt,
			"total_steps", totalSteps, "num_steps", numSteps, "start_on", startOn, "step", step)

		x := 1.0 / float64(totalSteps+1)
		var res []cond.Segment
		for s := startOn; s < numSteps; s++ {
			factor := utils.Round2(float64(s+1) * x)
			newCond, err := tensor.Lerp(fromCond, toCond, float32(factor))
			if err != nil {
				return nil, err
			}
			var newPooled tensor.Vector
			if fromPooled != nil && toPooled != nil {
				newPooled, err = tensor.LerpVector(fromPooled, toPooled, float32(factor))
				if err != nil {
					return nil, err
				}
			} else if fromPooled != nil {
				newPooled = fromPooled
			}

			meta := start[idx].Meta
			if newPooled != nil {
				meta.Pooled = newPooled
			}
			meta.StartPercent = utils.Round2(startPct)
			meta.EndPercent = math.Min(utils.Round2(startPct+step), 1.0)
			meta.Prompt = fmt.Sprintf("linear:%s / %s", formatPct(utils.Round2(1.0-factor)), formatPct(factor))
			startPct = utils.Round2(startPct + step)
			res = append(res, cond.Segment{Cond: newCond, Meta: meta})
		}
		if len(res) > 0 {
			res[len(res)-1].Meta.EndPercent = utils.Round2(endAt)
			all = append(all, res...)
		}
	}
	return all, nil
}

func formatPct(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
