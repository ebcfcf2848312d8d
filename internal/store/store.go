// Package store holds one session's in-flight documents, keyed by content
// fingerprint. It is ephemeral working memory, not a system of record: an
// entry lives from intake until the artifact is stored or the session clears.
package store

import (
	"sync"

	"github.com/yuehanbi/receipt2excel/internal/entity"
)

// RecordStore is the only shared structure in the pipeline; every method
// serializes behind one mutex. Documents never reference each other, so no
// finer locking is needed.
type RecordStore struct {
	mu   sync.Mutex
	docs map[string]*entity.Document
}

func NewRecordStore() *RecordStore {
	return &RecordStore{docs: make(map[string]*entity.Document)}
}

// InsertIfAbsent atomically inserts doc unless its fingerprint is already
// present. It returns the document now in the store and whether the insert
// happened; on a duplicate the existing document is returned untouched.
func (s *RecordStore) InsertIfAbsent(doc *entity.Document) (*entity.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.docs[doc.Fingerprint]; ok {
		return existing, false
	}
	s.docs[doc.Fingerprint] = doc
	return doc, true
}

// Get looks up a document by fingerprint.
func (s *RecordStore) Get(fingerprint string) (*entity.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[fingerprint]
	return doc, ok
}

// Remove ends a document's lifecycle (used once its artifact is stored).
func (s *RecordStore) Remove(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, fingerprint)
}

// Clear discards every entry unconditionally, regardless of state.
func (s *RecordStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.docs)
	s.docs = make(map[string]*entity.Document)
	return n
}

// List snapshots the current documents in no particular order.
func (s *RecordStore) List() []*entity.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out
}

// Len reports the number of in-flight documents.
func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
