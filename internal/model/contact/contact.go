package contact

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StorageKey is the fixed key the trusted contact list is persisted under.
const StorageKey = "trusted_contacts"

var (
	ErrNameRequired   = errors.New("contact name is required")
	ErrPhoneRequired  = errors.New("contact phone is required")
	ErrNotFound       = errors.New("contact not found")
	ErrStorageCorrupt = errors.New("stored contact list is corrupt")
)

// Contact is a trusted person who receives emergency messages.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Normalize trims the user supplied fields and validates them.
func Normalize(name, phone string) (string, string, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" {
		return "", "", ErrNameRequired
	}
	if phone == "" {
		return "", "", ErrPhoneRequired
	}
	return name, phone, nil
}

// Encode serialises the list in insertion order.
func Encode(items []Contact) ([]byte, error) {
	if items == nil {
		items = []Contact{}
	}
	return json.Marshal(items)
}

// Decode parses a persisted list. Any unreadable payload, blank field or duplicate
// id is reported as ErrStorageCorrupt.
func Decode(raw []byte) ([]Contact, error) {
	var items []Contact
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" || strings.TrimSpace(item.Name) == "" || strings.TrimSpace(item.Phone) == "" {
			return nil, fmt.Errorf("%w: record %d is incomplete", ErrStorageCorrupt, i)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrStorageCorrupt, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return items, nil
}
