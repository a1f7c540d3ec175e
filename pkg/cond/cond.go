// Package cond описывает сегменты кондиционирования - единицы результата
// энкодинга, которые потребляет сэмплер.
//
// Сегмент это тензор кондиционирования плюс метаданные: окно действия в
// процентах сэмплинга, pooled-выход, пространственные ограничения и
// подсказки разрешения. Тензоры в сегментах разделяются между копиями и
// кэшем, поэтому мутировать их нельзя.
package cond

import (
	"fmt"
	"strings"

	"github.com/ilkoid/condsched/pkg/directive"
	"github.com/ilkoid/condsched/pkg/tensor"
)

// Segment - один сегмент кондиционирования.
type Segment struct {
	Cond *tensor.Tensor
	Meta Meta
}

// Meta - метаданные сегмента.
//
// Копия Meta по значению безопасна: указатели внутри указывают на
// иммутабельные данные. Оркестратор штампует окна действия именно так,
// копией с подменой Start/End.
type Meta struct {
	Prompt       string  `json:"prompt,omitempty"`
	StartPercent float64 `json:"start_percent"`
	EndPercent   float64 `json:"end_percent"`

	// Strength задаётся COMFYAND-сегментам и сегментам с AREA.
	// nil означает дефолтную силу сэмплера.
	Strength *float64 `json:"strength,omitempty"`

	Area            *directive.Area `json:"area,omitempty"`
	SetAreaToBounds bool            `json:"set_area_to_bounds,omitempty"`

	Mask         *tensor.Tensor `json:"-"`
	MaskStrength float64        `json:"mask_strength,omitempty"`

	Pooled tensor.Vector `json:"-"`

	SDXL *directive.SDXLOpts `json:"sdxl,omitempty"`
}

// LatentScale - во сколько раз latent-сетка мельче пиксельной.
// Области AREA приходят из директив уже делёнными на эту величину;
// маски хранятся в пикселях холста и приводятся через LatentMask.
const LatentScale = 8

// LatentMask возвращает маску сегмента, приведённую к latent-сетке
// сэмплера. nil для сегментов без маски.
func (m *Meta) LatentMask() (*tensor.Tensor, error) {
	if m.Mask == nil {
		return nil, nil
	}
	return tensor.DownscaleMask(m.Mask, LatentScale)
}

// Summary возвращает краткое описание сегментов для логов:
// тяжёлые тензоры заменяются формой.
func Summary(segs []Segment) string {
	var sb strings.Builder
	for i, s := range segs {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%d: [%.2f-%.2f] %dx%d",
			i, s.Meta.StartPercent, s.Meta.EndPercent, s.Cond.Rows(), s.Cond.Cols())
		if s.Meta.Strength != nil {
			fmt.Fprintf(&sb, " strength=%v", *s.Meta.Strength)
		}
		if s.Meta.Area != nil {
			sb.WriteString(" area")
		}
		if s.Meta.Mask != nil {
			fmt.Fprintf(&sb, " mask=%dx%d", s.Meta.Mask.Rows(), s.Meta.Mask.Cols())
		}
		if len(s.Meta.Pooled) > 0 {
			fmt.Fprintf(&sb, " pooled=%d", len(s.Meta.Pooled))
		}
		if s.Meta.Prompt != "" {
			fmt.Fprintf(&sb, " %q", truncate(s.Meta.Prompt, 40))
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
