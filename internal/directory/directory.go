package directory

import (
	"sync"

	"flexphone/internal/models"
)

// Directory resolves phone numbers to known contacts, used to enrich
// the display name on inbound calls.
type Directory interface {
	LookupByNumber(number string) (models.ContactSummary, bool)
}

// MemoryDirectory is a mutex-guarded in-memory contact table, seeded
// from configuration at startup.
type MemoryDirectory struct {
	mu       sync.RWMutex
	contacts map[string]models.ContactSummary
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		contacts: make(map[string]models.ContactSummary),
	}
}

func (d *MemoryDirectory) Add(contact models.ContactSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[contact.Number] = contact
}

func (d *MemoryDirectory) LookupByNumber(number string) (models.ContactSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[number]
	return c, ok
}
