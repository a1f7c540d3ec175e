// Package encoder превращает текст промпта в сегменты кондиционирования.
//
// Пакет не знает, как именно устроена модель: вся работа с токенами и
// эмбеддингами делегируется хэндлу (Handle). Здесь живёт только логика
// промпт-языка: AND-подпромпты с весами, BREAK-чанки, CLIP_L, директивы
// AREA/MASK/NOISE/SDXL/CUT и сборка взвешенной суммы.
package encoder

import (
	"context"

	"github.com/ilkoid/condsched/pkg/directive"
	"github.com/ilkoid/condsched/pkg/lora"
	"github.com/ilkoid/condsched/pkg/tensor"
)

// Channel - канал токенизации модели. Стандартные модели несут только
// ChannelL; dual-clip модели добавляют ChannelG, из которого берётся
// pooled-выход.
type Channel string

const (
	ChannelL Channel = "l"
	ChannelG Channel = "g"
)

// Token - один токен с весом внимания и идентификатором слова.
type Token struct {
	ID     int
	Weight float64
	WordID int
}

// Chunk - чанка токенов фиксированной длины. Токенизатор возвращает
// чанки уже с паддингом.
type Chunk []Token

// Tokens - чанки по каналам модели.
type Tokens map[Channel][]Chunk

// Family - семейство модели энкодера.
type Family int

const (
	// FamilyStandard - одноканальная модель (только "l").
	FamilyStandard Family = iota
	// FamilyDual - двухканальная модель ("l" + "g"), pooled из "g".
	FamilyDual
)

func (f Family) String() string {
	switch f {
	case FamilyStandard:
		return "standard"
	case FamilyDual:
		return "dual"
	default:
		return "unknown"
	}
}

// EncodeOpts - параметры интерпретации токенов при энкодинге.
type EncodeOpts struct {
	Style         string
	Normalization string
	Regions       []directive.Region
}

// Handle - доступ к токен-энкодеру конкретной модели.
//
// Реализации обязаны быть поведенчески чистыми: один и тот же текст при
// одном и том же состоянии LoRA даёт один и тот же результат. На этом
// стоит кэш кондиционирования.
type Handle interface {
	lora.Target

	// Tokenize разбивает текст на чанки по каналам модели.
	// wordIDs включает разметку принадлежности токенов словам.
	Tokenize(ctx context.Context, text string, wordIDs bool) (Tokens, error)

	// EncodeFromTokens энкодит токены в тензор кондиционирования.
	// При returnPooled возвращается и pooled-выход.
	EncodeFromTokens(ctx context.Context, t Tokens, returnPooled bool, opts EncodeOpts) (*tensor.Tensor, tensor.Vector, error)

	// Family сообщает семейство модели.
	Family() Family

	// Clone возвращает независимую копию хэндла. Применение LoRA к
	// копии не затрагивает оригинал.
	Clone() Handle
}
