package utils

import "math"

// Round2 округляет до двух знаков после запятой (half away from zero).
//
// Все проценты расписания и факторы интерполяции живут в двухзначной
// сетке: границы сегментов обязаны совпадать бит в бит между парсером,
// интерполятором и оркестратором.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}
