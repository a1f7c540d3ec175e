package tensor

import (
	"math/rand"
)

// NewRNG создает детерминированный генератор для заданного seed.
//
// Один генератор протягивается через все вызовы ApplyNoise внутри
// сегмента: сначала шум для cond, затем для pooled. Порядок вызовов
// фиксирован, поэтому результат воспроизводим.
func NewRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Normal возвращает тензор формы rows x cols из N(0, 1).
// При rng == nil используется глобальный генератор (невоспроизводимо).
func Normal(rows, cols int, rng *rand.Rand) *Tensor {
	t := New(rows, cols)
	for i := range t.data {
		if rng != nil {
			t.data[i] = float32(rng.NormFloat64())
		} else {
			t.data[i] = float32(rand.NormFloat64())
		}
	}
	return t
}

// ApplyNoise возвращает t*(1-weight) + n*weight, где n ~ N(0, 1).
// Нулевой вес и nil-тензор возвращают вход без изменений.
func ApplyNoise(t *Tensor, weight float64, rng *rand.Rand) *Tensor {
	if t == nil || weight == 0 {
		return t
	}
	w := float32(weight)
	n := Normal(t.rows, t.cols, rng)
	r := New(t.rows, t.cols)
	for i, v := range t.data {
		r.data[i] = v*(1-w) + n.data[i]*w
	}
	return r
}

// ApplyNoiseVector - то же для pooled-вектора.
func ApplyNoiseVector(v Vector, weight float64, rng *rand.Rand) Vector {
	if v == nil || weight == 0 {
		return v
	}
	w := float32(weight)
	r := make(Vector, len(v))
	for i, x := range v {
		var n float64
		if rng != nil {
			n = rng.NormFloat64()
		} else {
			n = rand.NormFloat64()
		}
		r[i] = x*(1-w) + float32(n)*w
	}
	return r
}
