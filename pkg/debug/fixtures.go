// Тестовые данные для проверки рекордера без полноценного прогона
// энкодинга. Используются в unit-тестах и в демо-утилитах.
package debug

import (
	"time"
)

// SampleSchedule возвращает текст расписания для демонстрационных
// прогонов рекордера.
func SampleSchedule() string {
	return "[masterpiece portrait:detailed portrait <lora:detail:0.7>:0.4] [day:night:0.6]"
}

// FillSampleTrace наполняет рекордер правдоподобным прогоном.
//
// События повторяют то, что пишет оркестратор: энкодинги с промахом и
// попаданием в кэш, переключение LoRA, три окна.
func FillSampleTrace(r *Recorder) {
	r.Start(SampleSchedule(), "")
	r.RecordLoraSwitch(LoraSwitch{Names: []string{"detail"}, Duration: 12})
	r.RecordEncode(EncodeEvent{Prompt: "masterpiece portrait", CacheHit: false, Segments: 1, Duration: 40})
	r.RecordEncode(EncodeEvent{Prompt: "detailed portrait", CacheHit: false, Segments: 1, Duration: 38})
	r.RecordEncode(EncodeEvent{Prompt: "detailed portrait", CacheHit: true, Segments: 1, Duration: 0})
	r.RecordWindow(Window{Start: 0.0, End: 0.4, Prompt: "masterpiece portrait", Segments: 1})
	r.RecordWindow(Window{Start: 0.4, End: 0.6, Prompt: "detailed portrait", Segments: 1})
	r.RecordWindow(Window{Start: 0.6, End: 1.0, Prompt: "detailed portrait", Segments: 1})
}

// SampleDuration - длительность демонстрационного прогона.
func SampleDuration() time.Duration {
	return 90 * time.Millisecond
}
