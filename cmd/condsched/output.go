// Condsched — CLI утилита для энкодинга расписаний промптов.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ilkoid/condsched/internal/app"
	"github.com/ilkoid/condsched/pkg/cond"
)

// printHuman выводит результат в человекочитаемом формате.
func printHuman(res *app.EncodeResult) {
	fmt.Println("=== Schedule ===")
	fmt.Println()
	fmt.Println(res.Schedule.String())
	fmt.Println()

	fmt.Println("=== Segments ===")
	for i, seg := range res.Segments {
		fmt.Printf("%2d. [%.2f - %.2f] %dx%d  %s\n",
			i+1,
			seg.Meta.StartPercent, seg.Meta.EndPercent,
			seg.Cond.Rows(), seg.Cond.Cols(),
			truncate(strings.TrimSpace(seg.Meta.Prompt), 60))
		if shape := latentMaskShape(&seg.Meta); shape != "" {
			fmt.Printf("    mask %dx%d -> latent %s\n",
				seg.Meta.Mask.Cols(), seg.Meta.Mask.Rows(), shape)
		}
	}
	fmt.Println()

	fmt.Printf("Segments: %d\n", len(res.Segments))
	fmt.Printf("Duration: %d ms\n", res.Duration.Milliseconds())
}

// segmentView — представление сегмента для JSON вывода (без тензоров).
type segmentView struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Meta cond.Meta `json:"meta"`

	// Форма маски на latent-сетке, "64x64". Пустая без маски.
	MaskLatent string `json:"mask_latent,omitempty"`
}

// latentMaskShape возвращает форму маски на latent-сетке вида "WxH".
func latentMaskShape(m *cond.Meta) string {
	lm, err := m.LatentMask()
	if err != nil || lm == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", lm.Cols(), lm.Rows())
}

// printJSON выводит результат в JSON формате.
func printJSON(source, filters string, res *app.EncodeResult) {
	segs := make([]segmentView, 0, len(res.Segments))
	for _, seg := range res.Segments {
		segs = append(segs, segmentView{
			Rows:       seg.Cond.Rows(),
			Cols:       seg.Cond.Cols(),
			Meta:       seg.Meta,
			MaskLatent: latentMaskShape(&seg.Meta),
		})
	}

	result := struct {
		Source     string        `json:"source"`
		Filters    string        `json:"filters,omitempty"`
		Segments   []segmentView `json:"segments"`
		DurationMs int64         `json:"duration_ms"`
		Trace      string        `json:"trace,omitempty"`
	}{
		Source:     source,
		Filters:    filters,
		Segments:   segs,
		DurationMs: res.Duration.Milliseconds(),
		Trace:      res.TracePath,
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}

	fmt.Println(string(data))
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
