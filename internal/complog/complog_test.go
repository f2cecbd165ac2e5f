package complog

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"opto/internal/ci"
)

func TestNilLogDiscards(t *testing.T) {
	var l *Log
	l.Elem("assert_null", A("reason", "field"))
	if got := l.Identify(&ci.Klass{Name: "Point"}); got != 0 {
		t.Fatalf("nil log identify = %d", got)
	}
	if l.Events() != nil || l.Err() != nil {
		t.Fatalf("nil log should be empty")
	}
}

func TestTextSink(t *testing.T) {
	var buf bytes.Buffer
	l := New("Point.get", TextSink(&buf))
	k := &ci.Klass{Name: "Ghost"}
	id := l.Identify(k)
	if again := l.Identify(k); again != id {
		t.Fatalf("identify is not stable: %d vs %d", id, again)
	}
	l.Elem("assert_null", A("reason", "field"), A("klass", id))
	out := buf.String()
	for _, want := range []string{
		"method='Point.get'",
		"<klass id='1' name='Ghost'/>",
		"<assert_null reason='field' klass='1'/>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log to contain %q; got:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "<klass "); n != 1 {
		t.Fatalf("klass logged %d times", n)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	l := New("Grid.make", store)
	l.Elem("multianewarray", A("dims", 3), A("expand", true))
	l.Elem("uncommon_trap", A("reason", "unloaded"), A("action", "reinterpret"))
	if err := l.Err(); err != nil {
		t.Fatal(err)
	}

	comps, err := store.Compilations("Grid.make")
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 1 || comps[0].ID != l.ID() {
		t.Fatalf("unexpected compilations: %+v", comps)
	}
	events, err := store.Events(l.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Name != "uncommon_trap" || events[1].Attr("reason") != "unloaded" {
		t.Fatalf("unexpected event: %+v", events[1])
	}
	counts, err := store.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["multianewarray"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
