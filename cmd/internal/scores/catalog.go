package scores

import (
	"encoding/json"
	"fmt"
	"os"
)

// Entry is one scorable item as served to clients. The attributes blob is
// presentation data owned by the catalog file; the service only ever
// overwrites the "score" attribute.
type Entry struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

// Catalog is the immutable set of entries this deployment scores.
type Catalog struct {
	entries []Entry
	byID    map[string]int
}

// LoadCatalog reads and validates an entries JSON file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("entries file: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog builds a Catalog from raw entries JSON.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("entries file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries file: no entries")
	}

	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("entries file: entry %d has no id", i)
		}
		if _, dup := byID[e.ID]; dup {
			return nil, fmt.Errorf("entries file: duplicate id %q", e.ID)
		}
		byID[e.ID] = i
	}
	return &Catalog{entries: entries, byID: byID}, nil
}

// IDs returns the entry ids in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.ID
	}
	return out
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Len reports the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// entryCopy returns a deep-enough copy of the entry so callers can set the
// score attribute without mutating the catalog.
func (c *Catalog) entryCopy(id string) (Entry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	e := c.entries[i]
	attrs := make(map[string]any, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	e.Attributes = attrs
	return e, true
}
