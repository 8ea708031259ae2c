package storage

import "fmt"

// Singleton keeps one value of T in memory and mirrors it to a RecordStore.
type Singleton[T any] struct {
	store  RecordStore[T]
	v      T
	loaded bool
}

// NewSingleton loads the stored value. If nothing valid is stored, or
// validate rejects it, def is used and saved right away so the next boot
// finds a good record. validate may be nil.
func NewSingleton[T any](store RecordStore[T], def T, validate func(*T) bool) (*Singleton[T], error) {
	s := &Singleton[T]{store: store}

	v, ok, err := store.Read()
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if ok && (validate == nil || validate(&v)) {
		s.v = v
		s.loaded = true
		return s, nil
	}

	s.v = def
	if err := s.Save(); err != nil {
		return nil, fmt.Errorf("save default: %w", err)
	}
	return s, nil
}

// Value returns the in-memory value. Changes are persisted by Save.
func (s *Singleton[T]) Value() *T { return &s.v }

// Loaded reports whether the value came from flash rather than the default.
func (s *Singleton[T]) Loaded() bool { return s.loaded }

func (s *Singleton[T]) Save() error {
	return s.store.Write(s.v)
}
