package utils

import "time"

// Timer измеряет длительность операции и пишет её в лог при Stop.
//
// Использование:
//
//	defer utils.StartTimer("EncodeSchedule").Stop()
type Timer struct {
	name  string
	start time.Time
}

// StartTimer запускает именованный таймер.
func StartTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop останавливает таймер и логирует elapsed_ms на уровне Debug.
func (t *Timer) Stop() {
	Debug("timer", "name", t.name, "elapsed_ms", time.Since(t.start).Milliseconds())
}
