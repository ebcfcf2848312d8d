package store

import (
	"sync"
	"testing"

	"github.com/yuehanbi/receipt2excel/internal/entity"
)

func TestInsertIfAbsentKeepsFirstDocument(t *testing.T) {
	st := NewRecordStore()

	first := entity.NewDocument("fp-1", "a.jpg", []byte("a"))
	got, inserted := st.InsertIfAbsent(first)
	if !inserted {
		t.Fatalf("expected first insert to succeed")
	}
	if got != first {
		t.Fatalf("expected inserted document back")
	}

	second := entity.NewDocument("fp-1", "copy-of-a.jpg", []byte("a"))
	got, inserted = st.InsertIfAbsent(second)
	if inserted {
		t.Fatalf("duplicate fingerprint must not insert")
	}
	if got != first {
		t.Fatalf("duplicate insert must return the existing document")
	}
	if got.FileName != "a.jpg" {
		t.Fatalf("existing document was mutated: FileName = %q", got.FileName)
	}
	if st.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", st.Len())
	}
}

func TestInsertIfAbsentUnderConcurrency(t *testing.T) {
	st := NewRecordStore()

	const workers = 16
	var wg sync.WaitGroup
	inserted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := st.InsertIfAbsent(entity.NewDocument("fp-race", "x.jpg", []byte("x")))
			inserted <- ok
		}()
	}
	wg.Wait()
	close(inserted)

	wins := 0
	for ok := range inserted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning insert, got %d", wins)
	}
	if st.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", st.Len())
	}
}

func TestClearReportsCountAndEmptiesStore(t *testing.T) {
	st := NewRecordStore()
	st.InsertIfAbsent(entity.NewDocument("fp-1", "a.jpg", nil))
	st.InsertIfAbsent(entity.NewDocument("fp-2", "b.jpg", nil))

	if n := st.Clear(); n != 2 {
		t.Fatalf("Clear() = %d, want 2", n)
	}
	if st.Len() != 0 {
		t.Fatalf("store not empty after Clear")
	}
	if _, ok := st.Get("fp-1"); ok {
		t.Fatalf("Get returned a cleared document")
	}
}

func TestRemoveEndsLifecycle(t *testing.T) {
	st := NewRecordStore()
	st.InsertIfAbsent(entity.NewDocument("fp-1", "a.jpg", nil))
	st.Remove("fp-1")
	if _, ok := st.Get("fp-1"); ok {
		t.Fatalf("document still present after Remove")
	}
	// removing twice is harmless
	st.Remove("fp-1")
}

func TestManagerIsolatesSessions(t *testing.T) {
	m := NewManager()

	a := m.ForSession("alice")
	b := m.ForSession("bob")
	if a == b {
		t.Fatalf("sessions must not share a store")
	}
	if m.ForSession("alice") != a {
		t.Fatalf("same session must get the same store back")
	}

	a.InsertIfAbsent(entity.NewDocument("fp-1", "a.jpg", nil))
	if b.Len() != 0 {
		t.Fatalf("insert leaked across sessions")
	}

	m.Drop("alice")
	if m.ForSession("alice") == a {
		t.Fatalf("Drop must discard the session's store")
	}
}
