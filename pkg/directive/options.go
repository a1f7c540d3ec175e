package directive

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ilkoid/condsched/pkg/tensor"
	"github.com/ilkoid/condsched/pkg/utils"
)

// Styles - поддерживаемые стили интерпретации весов токенов.
var Styles = []string{"comfy", "A1111", "compel", "comfy++", "down_weight", "perp"}

// Normalizations - поддерживаемые нормализации весов.
var Normalizations = []string{"none", "mean", "length", "length+mean"}

// ParseStyle извлекает STYLE(style, normalization) из текста.
//
// Первый STYLE в сегменте действует и на все AND-подпромпты, пока те не
// переопределят его собственным STYLE. Нераспознанные значения не
// фатальны: логируются и заменяются дефолтом.
func ParseStyle(text, defStyle, defNorm string) (style, norm, rest string) {
	rest, calls := Extract(text, "STYLE", []string{defStyle, defNorm})
	if len(calls) == 0 {
		return defStyle, defNorm, rest
	}
	style, norm = calls[0][0], calls[0][1]
	if !contains(Styles, style) {
		utils.Warn("unrecognized prompt style, using default", "style", style, "default", defStyle)
		style = defStyle
	}
	if !contains(Normalizations, norm) {
		utils.Warn("unrecognized prompt normalization, using default", "normalization", norm, "default", defNorm)
		norm = defNorm
	}
	return style, norm, rest
}

// Area - пространственная область действия сегмента.
//
// Порядок полей повторяет формат области у сэмплера: (h, w, y, x).
// Для Pct значения - доли холста [0, 1]; иначе они уже переведены в
// latent-юниты (пиксели, делённые на 8).
type Area struct {
	Pct    bool
	H      float64
	W      float64
	Y      float64
	X      float64
	Weight float64
}

// ParseArea извлекает AREA(x w, y h, weight).
//
// Все четыре координаты обязаны быть либо процентами [0, 1], либо
// пиксельными значениями (0 или > 1). Смешение единиц - FormatError.
// Используется только первая директива AREA в подпромпте.
func ParseArea(text string) (rest string, area *Area, err error) {
	rest, calls := Extract(text, "AREA", []string{"0 1", "0 1", "1"})
	if len(calls) == 0 {
		return rest, nil, nil
	}

	args := calls[0]
	xw := ParseFloats(args[0], []float64{0.0, 1.0})
	yh := ParseFloats(args[1], []float64{0.0, 1.0})
	x, w := xw[0], xw[1]
	y, h := yh[0], yh[1]
	weight := SafeFloat(args[2], 1.0)

	switch {
	case isPct(h) && isPct(w) && isPct(y) && isPct(x):
		area = &Area{Pct: true, H: h, W: w, Y: y, X: x, Weight: weight}
	case isPixel(h) && isPixel(w) && isPixel(y) && isPixel(x):
		area = &Area{
			H:      float64(int(h) / 8),
			W:      float64(int(w) / 8),
			Y:      float64(int(y) / 8),
			X:      float64(int(x) / 8),
			Weight: weight,
		}
	default:
		return rest, nil, &FormatError{
			Directive: "AREA",
			Detail: fmt.Sprintf(
				"invalid size %v %v, %v %v: values must either all be percentages between 0 and 1 or positive integer pixel values excluding 1",
				x, w, h, y,
			),
		}
	}
	return rest, area, nil
}

// ParseMaskSize извлекает MASK_SIZE(width, height). При отсутствии
// директивы возвращаются defW и defH.
func ParseMaskSize(text string, defW, defH int) (rest string, w, h int) {
	dw := strconv.Itoa(defW)
	dh := strconv.Itoa(defH)
	rest, calls := Extract(text, "MASK_SIZE", []string{dw, dh})
	if len(calls) == 0 {
		return rest, defW, defH
	}
	w = int(SafeFloat(calls[0][0], float64(defW)))
	h = int(SafeFloat(calls[0][1], float64(defH)))
	return rest, w, h
}

// ParseMask извлекает MASK(x1 x2, y1 y2, weight) и растеризует её в маску
// размера w x h: единицы внутри прямоугольника, нули снаружи.
//
// Проценты разрешаются относительно размера маски, пиксели берутся как
// есть. Смешение единиц - FormatError. Используется только первая
// директива MASK; остальные поглощаются и игнорируются.
func ParseMask(text string, w, h int) (rest string, mask *tensor.Tensor, weight float64, err error) {
	rest, calls := Extract(text, "MASK", []string{"0 1", "0 1", "1"})
	if len(calls) == 0 {
		return rest, nil, 0, nil
	}
	if len(calls) > 1 {
		utils.Debug("multiple MASK directives in one prompt, using the first", "count", len(calls))
	}

	args := calls[0]
	xs := ParseFloats(args[0], []float64{0.0, 1.0})
	ys := ParseFloats(args[1], []float64{0.0, 1.0})
	x1, x2 := xs[0], xs[1]
	y1, y2 := ys[0], ys[1]
	weight = SafeFloat(args[2], 1.0)

	var ix1, ix2, iy1, iy2 int
	switch {
	case isPct(x1) && isPct(x2) && isPct(y1) && isPct(y2):
		ix1, ix2 = int(float64(w)*x1), int(float64(w)*x2)
		iy1, iy2 = int(float64(h)*y1), int(float64(h)*y2)
	case isPixel(x1) && isPixel(x2) && isPixel(y1) && isPixel(y2):
		ix1, ix2 = int(x1), int(x2)
		iy1, iy2 = int(y1), int(y2)
	default:
		return rest, nil, 0, &FormatError{
			Directive: "MASK",
			Detail: fmt.Sprintf(
				"invalid size %v %v, %v %v: values must either all be percentages between 0 and 1 or positive integer pixel values excluding 1",
				x1, x2, y1, y2,
			),
		}
	}

	utils.Debug("mask rectangle", "xs", fmt.Sprintf("(%d, %d)", ix1, ix2), "ys", fmt.Sprintf("(%d, %d)", iy1, iy2))
	return rest, tensor.RectMask(ix1, ix2, iy1, iy2, w, h), weight, nil
}

// Noise - параметры инъекции шума в результат энкодинга.
type Noise struct {
	Weight  float64
	Seed    int64
	HasSeed bool
}

// ParseNoise извлекает NOISE(weight, seed) из текста.
//
// Веса всех директив NOISE суммируются и обрезаются в [0, 1]. Seed
// берётся только из первой директивы; без seed шум невоспроизводим.
func ParseNoise(text string) (rest string, n *Noise) {
	rest, calls := Extract(text, "NOISE", []string{"0.0", "none"})
	if len(calls) == 0 {
		return rest, nil
	}
	n = &Noise{}
	if seed, err := strconv.ParseFloat(strings.TrimSpace(calls[0][1]), 64); err == nil {
		n.Seed = int64(seed)
		n.HasSeed = true
	}
	for _, c := range calls {
		n.Weight += SafeFloat(c[0], 0.0)
	}
	if n.Weight > 1 {
		n.Weight = 1
	}
	if n.Weight < 0 {
		n.Weight = 0
	}
	return rest, n
}

// SDXLOpts - подсказки разрешения для dual-clip моделей.
type SDXLOpts struct {
	Width        int
	Height       int
	TargetWidth  int
	TargetHeight int
	CropW        int
	CropH        int
}

// ParseSDXL извлекает SDXL(w h, tw th, cw ch). Дефолты 1024x1024 и
// нулевой crop.
func ParseSDXL(text string) (rest string, opts *SDXLOpts) {
	rest, calls := Extract(text, "SDXL", []string{"1024 1024", "1024 1024", "0 0"})
	if len(calls) == 0 {
		return rest, nil
	}
	args := calls[0]
	wh := ParseFloats(args[0], []float64{1024, 1024})
	twth := ParseFloats(args[1], []float64{1024, 1024})
	crop := ParseFloats(args[2], []float64{0, 0})
	return rest, &SDXLOpts{
		Width:        int(wh[0]),
		Height:       int(wh[1]),
		TargetWidth:  int(twth[0]),
		TargetHeight: int(twth[1]),
		CropW:        int(crop[0]),
		CropH:        int(crop[1]),
	}
}

// Region - область CUT для энкодеров с поддержкой cutoff-регионов.
//
// Числовые поля оставлены строками: пустая строка означает "не задано",
// и консьюмер сам решает, чем её заполнить. Дефолты: weight 1,
// strict_mask 1, start_from_masked 1, пустой mask_token.
type Region struct {
	Text            string
	Target          string
	Weight          string
	StrictMask      string
	StartFromMasked string
	MaskToken       string
}

// ParseCuts извлекает CUT(region, target, weight, strict_mask,
// start_from_masked, mask_token). Регионы передаются энкодеру как есть.
func ParseCuts(text string) (rest string, regions []Region) {
	rest, calls := Extract(text, "CUT", []string{"", "", "", "", "", ""})
	for _, c := range calls {
		regions = append(regions, Region{
			Text:            c[0],
			Target:          c[1],
			Weight:          c[2],
			StrictMask:      c[3],
			StartFromMasked: c[4],
			MaskToken:       c[5],
		})
	}
	return rest, regions
}

// weightRe - вес подпромпта в хвосте строки: ":1.5" или ":0.5!noscale".
var weightRe = regexp.MustCompile(`:(-?\d\.?\d*)(![A-Za-z]+)?$`)

// ParseWeight снимает вес с хвоста подпромпта.
//
// Без суффикса вес равен 1. Тег !noscale исключает подпромпт из общей
// нормализации суммы; прочие теги игнорируются.
func ParseWeight(text string) (w float64, noScale bool, rest string) {
	m := weightRe.FindStringSubmatchIndex(text)
	if m == nil {
		return 1.0, false, text
	}
	w = SafeFloat(text[m[2]:m[3]], 1.0)
	if m[4] >= 0 && text[m[4]:m[5]] == "!noscale" {
		noScale = true
	}
	return w, noScale, text[:m[0]]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isPct(f float64) bool {
	return f >= 0.0 && f <= 1.0
}

func isPixel(f float64) bool {
	return f == 0 || f > 1
}
