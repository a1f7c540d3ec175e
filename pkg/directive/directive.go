// Package directive реализует извлечение встроенных директив вида NAME(args)
// из текста промпта: AREA, MASK, NOISE, STYLE, SDXL, CUT и другие.
//
// Извлечение - чистый лексический проход с фиксированной грамматикой:
// имя директивы на границе слова, за ним сбалансированные скобки, аргументы
// через запятую на верхнем уровне вложенности. Семантическая интерпретация
// аргументов живёт в типизированных парсерах (options.go) и выполняется
// строго ПОСЛЕ извлечения.
//
// Ошибки формата (FormatError) фатальны для энкодинга. Нераспознанные
// значения опций не фатальны: логируются и заменяются дефолтом.
package directive

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FormatError - синтаксически корректная директива с недопустимой
// комбинацией значений (например, смешение процентов и пикселей).
type FormatError struct {
	Directive string
	Detail    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("directive %s: %s", e.Directive, e.Detail)
}

// Extract находит все вызовы директивы name в тексте и возвращает текст
// без них вместе со списками аргументов каждого вызова.
//
// Аргументы разделяются запятыми на нулевой глубине скобок и обрезаются
// по пробелам. Недостающие аргументы добираются из defaults. При
// defaults == nil тело скобок возвращается одним сырым элементом без
// разбиения (режим CLIP_L).
//
// Незакрытая скобка поглощает остаток текста как тело директивы.
func Extract(text, name string, defaults []string) (string, [][]string) {
	re := regexp.MustCompile(`\b` + name + `\(`)

	var calls [][]string
	for {
		loc := re.FindStringIndex(text)
		if loc == nil {
			break
		}
		depth := 1
		i := loc[1]
		for i < len(text) && depth > 0 {
			switch text[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			i++
		}
		var body string
		if depth == 0 {
			body = text[loc[1] : i-1]
		} else {
			body = text[loc[1]:]
		}
		calls = append(calls, splitArgs(body, defaults))
		text = text[:loc[0]] + text[i:]
	}
	return text, calls
}

// splitArgs разбивает тело директивы на аргументы.
func splitArgs(body string, defaults []string) []string {
	if defaults == nil {
		return []string{body}
	}
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(body[last:i]))
				last = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(body[last:]))

	// Пустое тело означает "все аргументы по умолчанию"
	if len(parts) == 1 && parts[0] == "" {
		parts = parts[:0]
	}
	for i := len(parts); i < len(defaults); i++ {
		parts = append(parts, defaults[i])
	}
	return parts
}

// SafeFloat разбирает число, возвращая def при любой ошибке.
func SafeFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

// ParseFloats разбирает строку чисел, разделённых пробелами.
// Результат всегда длины len(defaults); нечитаемые или недостающие
// позиции берутся из defaults.
func ParseFloats(s string, defaults []float64) []float64 {
	fields := strings.Fields(s)
	out := make([]float64, len(defaults))
	for i, def := range defaults {
		out[i] = def
		if i < len(fields) {
			out[i] = SafeFloat(fields[i], def)
		}
	}
	return out
}
