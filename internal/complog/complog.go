// Package complog records what the compiler decided while lowering a method:
// traps taken, null assertions scheduled, allocation strategies chosen.
package complog

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"opto/internal/ci"
)

type Attr struct {
	Key   string
	Value string
}

func A(key string, value any) Attr {
	return Attr{Key: key, Value: fmt.Sprint(value)}
}

type Compilation struct {
	ID      string
	Method  string
	Started time.Time
}

type Event struct {
	CompileID string
	Seq       int
	Name      string
	Attrs     []Attr
}

// Attr returns the value of key, or "" when absent.
func (e Event) Attr(key string) string {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func (e Event) String() string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(e.Name)
	for _, a := range e.Attrs {
		fmt.Fprintf(&sb, " %s='%s'", a.Key, a.Value)
	}
	sb.WriteString("/>")
	return sb.String()
}

type Sink interface {
	Begin(c Compilation) error
	Write(e Event) error
}

// Log is the per-compilation log. A nil *Log discards everything.
type Log struct {
	comp   Compilation
	sinks  []Sink
	seq    int
	ids    map[*ci.Klass]int
	events []Event
	err    error
}

func New(method string, sinks ...Sink) *Log {
	l := &Log{
		comp:  Compilation{ID: uuid.NewString(), Method: method, Started: time.Now()},
		sinks: sinks,
		ids:   map[*ci.Klass]int{},
	}
	for _, s := range sinks {
		l.record(s.Begin(l.comp))
	}
	return l
}

func (l *Log) ID() string {
	if l == nil {
		return ""
	}
	return l.comp.ID
}

// Elem records one element.
func (l *Log) Elem(name string, attrs ...Attr) {
	if l == nil {
		return
	}
	l.seq++
	e := Event{CompileID: l.comp.ID, Seq: l.seq, Name: name, Attrs: attrs}
	l.events = append(l.events, e)
	for _, s := range l.sinks {
		l.record(s.Write(e))
	}
}

// Identify returns a small log-local id for k, logging its name the first time.
func (l *Log) Identify(k *ci.Klass) int {
	if l == nil || k == nil {
		return 0
	}
	if id, ok := l.ids[k]; ok {
		return id
	}
	id := len(l.ids) + 1
	l.ids[k] = id
	l.Elem("klass", A("id", id), A("name", k.Name))
	return id
}

// Events returns what has been logged so far.
func (l *Log) Events() []Event {
	if l == nil {
		return nil
	}
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Find returns the logged elements called name.
func (l *Log) Find(name string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Err is the first error a sink reported.
func (l *Log) Err() error {
	if l == nil {
		return nil
	}
	return l.err
}

func (l *Log) record(err error) {
	if err != nil && l.err == nil {
		l.err = err
	}
}

type textSink struct {
	w io.Writer
}

// TextSink writes one element per line.
func TextSink(w io.Writer) Sink { return &textSink{w: w} }

func (s *textSink) Begin(c Compilation) error {
	_, err := fmt.Fprintf(s.w, "<task id='%s' method='%s'/>\n", c.ID, c.Method)
	return err
}

func (s *textSink) Write(e Event) error {
	_, err := fmt.Fprintln(s.w, e.String())
	return err
}
