package events

import (
	"sync"

	"go.uber.org/zap"
)

// Emitter publishes event records.
type Emitter interface {
	Emit(Log)
}

// LogEmitter writes records to the logger as 'EVENT_JSON:' lines.
type LogEmitter struct {
	log *zap.Logger
}

// NewLogEmitter returns LogEmitter writing to l.
func NewLogEmitter(l *zap.Logger) *LogEmitter {
	return &LogEmitter{log: l}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(l Log) {
	e.log.Info(l.String(), zap.String("event", l.Event.Tag()))
}

// Recorder keeps all emitted records in memory.
type Recorder struct {
	mtx  sync.Mutex
	logs []Log
}

// Emit implements Emitter.
func (r *Recorder) Emit(l Log) {
	r.mtx.Lock()
	r.logs = append(r.logs, l)
	r.mtx.Unlock()
}

// Logs returns a copy of recorded events in emission order.
func (r *Recorder) Logs() []Log {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]Log(nil), r.logs...)
}

// ByTag returns recorded events with the given tag.
func (r *Recorder) ByTag(tag string) []Event {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	var res []Event
	for i := range r.logs {
		if r.logs[i].Event.Tag() == tag {
			res = append(res, r.logs[i].Event)
		}
	}
	return res
}

// Multi passes every record to all emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(l Log) {
	for i := range m {
		m[i].Emit(l)
	}
}
