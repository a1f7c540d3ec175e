package encoder

import (
	"context"
	"math"
	"math/rand"
	"regexp"
	"strings"

	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/directive"
	"github.com/ilkoid/condsched/pkg/tensor"
	"github.com/ilkoid/condsched/pkg/utils"
)

// Defaults - сегментные дефолты энкодинга. Нулевые поля заменяются
// стандартными значениями (comfy, none, 512x512).
type Defaults struct {
	Style         string
	Normalization string
	MaskWidth     int
	MaskHeight    int
}

func (d Defaults) withFallbacks() Defaults {
	if d.Style == "" {
		d.Style = "comfy"
	}
	if d.Normalization == "" {
		d.Normalization = "none"
	}
	if d.MaskWidth <= 0 {
		d.MaskWidth = 512
	}
	if d.MaskHeight <= 0 {
		d.MaskHeight = 512
	}
	return d
}

var andRe = regexp.MustCompile(`\bAND\b`)

var breakRe = regexp.MustCompile(`\bBREAK\b`)

// sumTerm - слагаемое взвешенной суммы подпромптов.
type sumTerm struct {
	cond   *tensor.Tensor
	pooled tensor.Vector
	weight float64
}

// DoEncode энкодит текст одного сегмента расписания в сегменты
// кондиционирования.
//
// Текст делится на подпромпты по слову AND. Подпромпты без собственных
// директив AREA/MASK/SDXL складываются в один сегмент взвешенной суммой,
// нормированной на сумму модулей весов. Подпромпт с такими директивами
// становится отдельным сегментом. COMFYAND() отключает суммирование:
// каждый подпромпт идёт отдельным сегментом со strength, равным весу.
//
// Правило нормировки: подпромпты, содержащие "AREA(" или "MASK(", в
// нормирующую сумму не входят. Суффикс !noscale исключает подпромпт из
// нормировки, оставляя его вес как есть.
//
// Суммарный сегмент, если он есть, всегда добавляется последним.
func DoEncode(ctx context.Context, h Handle, text string, d Defaults) ([]cond.Segment, error) {
	d = d.withFallbacks()

	// 1. Сегментные директивы: STYLE и MASK_SIZE действуют на все
	// подпромпты сегмента
	style, norm, text := directive.ParseStyle(text, d.Style, d.Normalization)
	text, maskW, maskH := directive.ParseMaskSize(text, d.MaskWidth, d.MaskHeight)

	// 2. COMFYAND() переключает сегмент в режим раздельных сегментов
	altMethod := strings.Contains(text, "COMFYAND()")
	if altMethod {
		text = strings.ReplaceAll(text, "COMFYAND()", "")
	}

	// 3. Разбиение на подпромпты. SDXL() первого подпромпта действует на
	// весь сегмент
	prompts := splitAnd(text)
	first, segSDXL := directive.ParseSDXL(prompts[0])
	prompts[0] = first

	// 4. Нормирующая сумма весов
	scale := 0.0
	for _, p := range prompts {
		if strings.Contains(p, "AREA(") || strings.Contains(p, "MASK(") {
			continue
		}
		w, _, _ := directive.ParseWeight(p)
		scale += math.Abs(w)
	}

	var (
		segments []cond.Segment
		terms    []sumTerm
	)
	for _, raw := range prompts {
		// 5. Локальные директивы подпромпта
		prompt, mask, maskWeight, err := directive.ParseMask(raw, maskW, maskH)
		if err != nil {
			return nil, err
		}
		w, noScale, prompt := directive.ParseWeight(prompt)
		prompt, noise := directive.ParseNoise(prompt)
		if w == 0 {
			utils.Debug("skipping zero weight prompt", "prompt", prompt)
			continue
		}
		prompt, area, err := directive.ParseArea(prompt)
		if err != nil {
			return nil, err
		}
		prompt, localSDXL := directive.ParseSDXL(prompt)

		// 6. Энкодинг очищенного текста
		condT, pooled, err := EncodePrompt(ctx, h, prompt, style, norm)
		if err != nil {
			return nil, err
		}

		// 7. Инъекция шума. Генератор общий: сначала тензор, потом pooled
		if noise != nil {
			var rng *rand.Rand
			if noise.HasSeed {
				rng = tensor.NewRNG(noise.Seed)
			}
			condT = tensor.ApplyNoise(condT, noise.Weight, rng)
			pooled = tensor.ApplyNoiseVector(pooled, noise.Weight, rng)
		}

		// 8. Подпромпт с локальными директивами - отдельный сегмент
		if mask != nil || area != nil || altMethod || localSDXL != nil {
			meta := cond.Meta{Prompt: prompt}
			if altMethod {
				meta.Strength = f64(w)
			}
			if s := mergeSDXL(segSDXL, localSDXL); s != nil {
				v := *s
				meta.SDXL = &v
			}
			if area != nil {
				meta.Area = area
				meta.Strength = f64(area.Weight)
				meta.SetAreaToBounds = false
			}
			if mask != nil {
				meta.Mask = mask
				meta.MaskStrength = maskWeight
			}
			if pooled != nil {
				meta.Pooled = pooled
			}
			segments = append(segments, cond.Segment{Cond: condT, Meta: meta})
			continue
		}

		s := scale
		if noScale {
			s = 1.0
		}
		terms = append(terms, sumTerm{cond: condT, pooled: pooled, weight: w / s})
	}

	// 9. Взвешенная сумма оставшихся подпромптов: тензоры выравниваются по
	// числу чанков, pooled выравниваются по длине и складываются без весов
	if len(terms) > 0 {
		scaled := make([]*tensor.Tensor, 0, len(terms))
		var pooleds []tensor.Vector
		for _, t := range terms {
			scaled = append(scaled, t.cond.Scale(float32(t.weight)))
			if t.pooled != nil {
				pooleds = append(pooleds, t.pooled)
			}
		}
		eq, err := tensor.Equalize(scaled...)
		if err != nil {
			return nil, err
		}
		sum, err := tensor.Sum(eq...)
		if err != nil {
			return nil, err
		}
		meta := cond.Meta{}
		if segSDXL != nil {
			v := *segSDXL
			meta.SDXL = &v
		}
		if len(pooleds) > 0 {
			p, err := tensor.SumVectors(tensor.EqualizeVectors(pooleds...)...)
			if err != nil {
				return nil, err
			}
			meta.Pooled = p
		}
		segments = append(segments, cond.Segment{Cond: sum, Meta: meta})
	}

	return segments, nil
}

// EncodePrompt энкодит один подпромпт без директив веса и суммирования.
//
// Поддерживает собственный STYLE подпромпта, регионы CUT, чанки BREAK и
// канал CLIP_L для dual-clip моделей. Текст CLIP_L извлекается сырым
// телом, без разбора аргументов.
func EncodePrompt(ctx context.Context, h Handle, text, defStyle, defNorm string) (*tensor.Tensor, tensor.Vector, error) {
	style, norm, text := directive.ParseStyle(text, defStyle, defNorm)
	text, regions := directive.ParseCuts(text)
	text, lCalls := directive.Extract(text, "CLIP_L", nil)

	// Стиль perp работает с сырыми весами токенов, разметка слов ему
	// мешает. Регионы CUT, напротив, без неё не работают
	wordIDs := len(regions) > 0 || style != "perp"

	// Чанки BREAK токенизируются раздельно и конкатенируются поканально
	var tokens Tokens
	for _, chunk := range breakRe.Split(text, -1) {
		t, err := h.Tokenize(ctx, strings.TrimSpace(chunk), wordIDs)
		if err != nil {
			return nil, nil, err
		}
		if tokens == nil {
			tokens = t
			continue
		}
		for ch := range tokens {
			tokens[ch] = append(tokens[ch], t[ch]...)
		}
	}

	// CLIP_L задает текст канала "l" напрямую
	if len(lCalls) > 0 {
		if _, ok := tokens[ChannelL]; ok {
			parts := make([]string, 0, len(lCalls))
			for _, c := range lCalls {
				parts = append(parts, c[0])
			}
			tl, err := h.Tokenize(ctx, strings.Join(parts, ""), wordIDs)
			if err != nil {
				return nil, nil, err
			}
			tokens[ChannelL] = tl[ChannelL]
		}
	}

	// Каналы dual-clip модели обязаны совпадать по числу чанков. Короткий
	// канал дополняется повторением своей последней чанки
	if g, ok := tokens[ChannelG]; ok {
		l := tokens[ChannelL]
		if len(l) != len(g) && len(l) > 0 && len(g) > 0 {
			utils.Debug("padding shorter channel to match chunk counts",
				"l_chunks", len(l), "g_chunks", len(g))
			for len(l) < len(g) {
				l = append(l, l[len(l)-1])
			}
			for len(g) < len(l) {
				g = append(g, g[len(g)-1])
			}
			tokens[ChannelL] = l
			tokens[ChannelG] = g
		}
	}

	if style == "perp" && norm != "none" {
		utils.Warn("normalization is not supported with perp style, ignoring",
			"normalization", norm)
		norm = "none"
	}

	opts := EncodeOpts{Style: style, Normalization: norm, Regions: regions}
	return h.EncodeFromTokens(ctx, tokens, true, opts)
}

// splitAnd делит текст на AND-подпромпты с обрезкой пробелов. Пустой
// текст дает один пустой подпромпт.
func splitAnd(text string) []string {
	parts := andRe.Split(text, -1)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// mergeSDXL выбирает настройки SDXL подпромпта поверх сегментных.
func mergeSDXL(segment, local *directive.SDXLOpts) *directive.SDXLOpts {
	if local != nil {
		return local
	}
	return segment
}

func f64(v float64) *float64 {
	return &v
}
