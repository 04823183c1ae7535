package contact

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Store exposes the trusted contact registry to handlers and services.
type Store interface {
	List(ctx context.Context) []Contact
	FindByID(ctx context.Context, id string) (Contact, bool)
	Add(ctx context.Context, name, phone string) (Contact, error)
	Remove(ctx context.Context, id string) error
}

// KeyValue is the durable byte store behind PersistentStore.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Contact
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied contacts.
func NewMemoryStore(items []Contact) *MemoryStore {
	return &MemoryStore{items: append([]Contact(nil), items...)}
}

// List returns a copy of the contacts in insertion order.
func (s *MemoryStore) List(_ context.Context) []Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Contact(nil), s.items...)
}

// FindByID looks up a contact by identifier.
func (s *MemoryStore) FindByID(_ context.Context, id string) (Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Contact{}, false
}

// Add appends a new contact with a fresh id.
func (s *MemoryStore) Add(ctx context.Context, name, phone string) (Contact, error) {
	return s.mutate(ctx, appendContact(name, phone), nil)
}

// Remove deletes the contact with the given id.
func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, removeContact(id), nil)
	return err
}

type mutation func([]Contact) ([]Contact, Contact, error)

func appendContact(name, phone string) mutation {
	return func(items []Contact) ([]Contact, Contact, error) {
		name, phone, err := Normalize(name, phone)
		if err != nil {
			return nil, Contact{}, err
		}
		c := Contact{ID: uuid.NewString(), Name: name, Phone: phone}
		return append(items, c), c, nil
	}
}

func removeContact(id string) mutation {
	return func(items []Contact) ([]Contact, Contact, error) {
		for i, item := range items {
			if item.ID == id {
				next := append(append([]Contact(nil), items[:i]...), items[i+1:]...)
				return next, item, nil
			}
		}
		return nil, Contact{}, ErrNotFound
	}
}

// mutate applies fn to a copy of the list. commit, when set, runs under the write
// lock and must succeed before the new list becomes visible.
func (s *MemoryStore) mutate(ctx context.Context, fn mutation, commit func(context.Context, []Contact) error) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed, err := fn(append([]Contact(nil), s.items...))
	if err != nil {
		return Contact{}, err
	}
	if commit != nil {
		if err := commit(ctx, next); err != nil {
			return Contact{}, err
		}
	}
	s.items = next
	return changed, nil
}

// PersistentStore keeps the list in memory and writes the whole list back to a
// KeyValue under StorageKey after every change.
type PersistentStore struct {
	*MemoryStore
	kv KeyValue
}

// NewPersistentStore loads the saved list. Unreadable or corrupt data degrades to
// an empty list so startup never fails on bad storage.
func NewPersistentStore(ctx context.Context, kv KeyValue) *PersistentStore {
	items, err := load(ctx, kv)
	if err != nil {
		log.Printf("[contacts] %v; starting with an empty list", err)
		items = nil
	}
	return &PersistentStore{MemoryStore: NewMemoryStore(items), kv: kv}
}

func load(ctx context.Context, kv KeyValue) ([]Contact, error) {
	raw, ok, err := kv.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	return Decode(raw)
}

// Add appends a contact and persists the list.
func (s *PersistentStore) Add(ctx context.Context, name, phone string) (Contact, error) {
	return s.mutate(ctx, appendContact(name, phone), s.save)
}

// Remove deletes a contact and persists the list.
func (s *PersistentStore) Remove(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, removeContact(id), s.save)
	return err
}

func (s *PersistentStore) save(ctx context.Context, items []Contact) error {
	raw, err := Encode(items)
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}
	if err := s.kv.Put(ctx, StorageKey, raw); err != nil {
		return fmt.Errorf("persist contacts: %w", err)
	}
	return nil
}

// IsValidation reports whether err was caused by bad user input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNameRequired) || errors.Is(err, ErrPhoneRequired)
}
