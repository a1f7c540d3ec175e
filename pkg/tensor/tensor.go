// Package tensor реализует минимальную float32-арифметику для тензоров
// кондиционирования: линейную интерполяцию, взвешенные суммы, выравнивание
// длин и инъекцию шума.
//
// Тензор хранится row-major: rows — число токенов, cols — размерность
// эмбеддинга. Все операции возвращают НОВЫЙ тензор; входные данные не
// мутируются. Кэш кондов раздаёт общие указатели, поэтому мутация
// результата энкодинга запрещена по контракту.
//
// Thread-safe: да, при соблюдении контракта иммутабельности.
package tensor

import (
	"fmt"
)

// Tensor - матрица float32 фиксированной формы.
type Tensor struct {
	rows int
	cols int
	data []float32 // len == rows*cols, row-major
}

// Vector - одномерный float32 вектор (pooled output).
type Vector []float32

// New создает нулевой тензор формы rows x cols.
func New(rows, cols int) *Tensor {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return &Tensor{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// FromRows создает тензор из слайса строк одинаковой длины.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	cols := len(rows[0])
	t := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("tensor: row %d has %d columns, expected %d", i, len(r), cols)
		}
		copy(t.Row(i), r)
	}
	return t, nil
}

// Rows возвращает число строк (токенов).
func (t *Tensor) Rows() int {
	if t == nil {
		return 0
	}
	return t.rows
}

// Cols возвращает размерность эмбеддинга.
func (t *Tensor) Cols() int {
	if t == nil {
		return 0
	}
	return t.cols
}

// At возвращает элемент (r, c).
func (t *Tensor) At(r, c int) float32 {
	return t.data[r*t.cols+c]
}

// Set записывает элемент (r, c). Используется только при построении.
func (t *Tensor) Set(r, c int, v float32) {
	t.data[r*t.cols+c] = v
}

// Row возвращает строку r как слайс-окно в данные тензора.
// Мутировать возвращённый слайс можно только до публикации тензора.
func (t *Tensor) Row(r int) []float32 {
	return t.data[r*t.cols : (r+1)*t.cols]
}

// Data возвращает сырые данные row-major. Для сериализации в кэш.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}
	return t.data
}

// Clone возвращает глубокую копию.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	c := New(t.rows, t.cols)
	copy(c.data, t.data)
	return c
}

// Scale возвращает t*f.
func (t *Tensor) Scale(f float32) *Tensor {
	if t == nil {
		return nil
	}
	r := New(t.rows, t.cols)
	for i, v := range t.data {
		r.data[i] = v * f
	}
	return r
}

// sameShape проверяет совпадение форм.
func sameShape(a, b *Tensor) bool {
	return a.Rows() == b.Rows() && a.Cols() == b.Cols()
}

// Lerp возвращает a + (b-a)*factor. Формы должны совпадать:
// вызывающий обязан предварительно выровнять тензоры через Equalize.
func Lerp(a, b *Tensor, factor float32) (*Tensor, error) {
	if !sameShape(a, b) {
		return nil, fmt.Errorf("tensor: lerp shape mismatch %dx%d vs %dx%d", a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	r := New(a.Rows(), a.Cols())
	for i := range a.data {
		r.data[i] = a.data[i] + (b.data[i]-a.data[i])*factor
	}
	return r, nil
}

// Sum возвращает поэлементную сумму тензоров одинаковой формы.
func Sum(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: sum of zero tensors")
	}
	r := ts[0].Clone()
	for i, t := range ts[1:] {
		if !sameShape(r, t) {
			return nil, fmt.Errorf("tensor: sum shape mismatch at %d: %dx%d vs %dx%d", i+1, r.rows, r.cols, t.Rows(), t.Cols())
		}
		for j, v := range t.data {
			r.data[j] += v
		}
	}
	return r, nil
}

// Equalize выравнивает тензоры по числу строк: более короткие дополняются
// повторением СВОЕЙ последней строки до максимальной длины. Строки никогда
// не обрезаются. Размерность эмбеддинга у всех должна совпадать.
func Equalize(ts ...*Tensor) ([]*Tensor, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	maxRows := 0
	cols := ts[0].Cols()
	for _, t := range ts {
		if t.Cols() != cols {
			return nil, fmt.Errorf("tensor: equalize column mismatch %d vs %d", t.Cols(), cols)
		}
		if t.Rows() > maxRows {
			maxRows = t.Rows()
		}
	}
	out := make([]*Tensor, len(ts))
	for i, t := range ts {
		if t.Rows() == maxRows {
			out[i] = t
			continue
		}
		p := New(maxRows, cols)
		copy(p.data, t.data)
		// Пустому тензору повторять нечего, нулевой паддинг
		if t.Rows() > 0 {
			last := t.Row(t.Rows() - 1)
			for r := t.Rows(); r < maxRows; r++ {
				copy(p.Row(r), last)
			}
		}
		out[i] = p
	}
	return out, nil
}

// EqualizeVectors выравнивает векторы по длине: более короткие
// дополняются повторением своего последнего элемента. Пустой вектор
// дополняется нулями. Длины никогда не обрезаются.
func EqualizeVectors(vs ...Vector) []Vector {
	maxLen := 0
	for _, v := range vs {
		if len(v) > maxLen {
			maxLen = len(v)
		}
	}
	out := make([]Vector, len(vs))
	for i, v := range vs {
		if len(v) == maxLen {
			out[i] = v
			continue
		}
		p := make(Vector, maxLen)
		copy(p, v)
		if len(v) > 0 {
			last := v[len(v)-1]
			for j := len(v); j < maxLen; j++ {
				p[j] = last
			}
		}
		out[i] = p
	}
	return out
}

// LerpVector возвращает a + (b-a)*factor для векторов одной длины.
func LerpVector(a, b Vector, factor float32) (Vector, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("tensor: vector lerp length mismatch %d vs %d", len(a), len(b))
	}
	r := make(Vector, len(a))
	for i := range a {
		r[i] = a[i] + (b[i]-a[i])*factor
	}
	return r, nil
}

// SumVectors возвращает поэлементную сумму векторов одной длины.
func SumVectors(vs ...Vector) (Vector, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("tensor: sum of zero vectors")
	}
	r := make(Vector, len(vs[0]))
	copy(r, vs[0])
	for i, v := range vs[1:] {
		if len(v) != len(r) {
			return nil, fmt.Errorf("tensor: vector sum length mismatch at %d: %d vs %d", i+1, len(v), len(r))
		}
		for j, x := range v {
			r[j] += x
		}
	}
	return r, nil
}

// CloneVector возвращает копию вектора.
func CloneVector(v Vector) Vector {
	if v == nil {
		return nil
	}
	c := make(Vector, len(v))
	copy(c, v)
	return c
}
