package tensor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// RectMask строит маску h x w: единицы внутри прямоугольника
// [y1, y2) x [x1, x2), нули снаружи. Границы обрезаются по размеру маски.
func RectMask(x1, x2, y1, y2, w, h int) *Tensor {
	m := New(h, w)
	x1 = clampInt(x1, 0, w)
	x2 = clampInt(x2, 0, w)
	y1 = clampInt(y1, 0, h)
	y2 = clampInt(y2, 0, h)
	for y := y1; y < y2; y++ {
		row := m.Row(y)
		for x := x1; x < x2; x++ {
			row[x] = 1
		}
	}
	return m
}

// DownscaleMask уменьшает маску в factor раз (обычно 8: пиксели -> latent).
//
// Значения интерпретируются как яркость [0, 1] и ресайзятся Lanczos3,
// как и изображения в остальном пайплайне.
func DownscaleMask(m *Tensor, factor int) (*Tensor, error) {
	if m == nil {
		return nil, nil
	}
	if factor <= 0 {
		return nil, fmt.Errorf("tensor: downscale factor must be positive, got %d", factor)
	}
	if factor == 1 {
		return m.Clone(), nil
	}

	// 1. Переносим маску в 16-битное grayscale изображение
	h, w := m.Rows(), m.Cols()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := m.Row(y)
		for x := 0; x < w; x++ {
			v := row[x]
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535)})
		}
	}

	// 2. Ресайзим используя Lanczos3 (качественный алгоритм)
	nw := w / factor
	nh := h / factor
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	resized := resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)

	// 3. Возвращаем обратно в тензор
	out := New(nh, nw)
	for y := 0; y < nh; y++ {
		row := out.Row(y)
		for x := 0; x < nw; x++ {
			r, _, _, _ := resized.At(x, y).RGBA()
			row[x] = float32(r) / 65535.0
		}
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
