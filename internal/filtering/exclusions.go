package filtering

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Exclusion is a listing that should not be classified again.
type Exclusion struct {
	ID         string    `json:"id"`
	URL        string    `json:"url,omitempty"`
	Company    string    `json:"company,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ExcludedAt time.Time `json:"excluded_at"`
}

// Exclusions is the content of the exclude file.
type Exclusions struct {
	Items []*Exclusion `json:"items"`

	ids  map[string]struct{}
	urls map[string]struct{}
}

// LoadExclusions reads the exclude file. A missing or empty file yields an
// empty set.
func LoadExclusions(path string) (*Exclusions, error) {
	excluded := &Exclusions{}

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		excluded.index()
		return excluded, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() > 0 {
		if err := json.NewDecoder(file).Decode(excluded); err != nil {
			return nil, err
		}
	}

	excluded.index()
	return excluded, nil
}

func (e *Exclusions) index() {
	e.ids = make(map[string]struct{}, len(e.Items))
	e.urls = make(map[string]struct{}, len(e.Items))
	for _, item := range e.Items {
		if item == nil {
			continue
		}
		if id := strings.TrimSpace(item.ID); id != "" {
			e.ids[id] = struct{}{}
		}
		if u := strings.TrimSpace(item.URL); u != "" {
			e.urls[u] = struct{}{}
		}
	}
}

// Contains matches by listing id or by link.
func (e *Exclusions) Contains(id, url string) bool {
	if e.ids == nil {
		e.index()
	}
	if _, ok := e.ids[strings.TrimSpace(id)]; ok && id != "" {
		return true
	}
	if _, ok := e.urls[strings.TrimSpace(url)]; ok && url != "" {
		return true
	}
	return false
}

// Add appends item unless it is already excluded.
func (e *Exclusions) Add(item *Exclusion) bool {
	if item == nil || e.Contains(item.ID, item.URL) {
		return false
	}
	e.Items = append(e.Items, item)
	if item.ID != "" {
		e.ids[item.ID] = struct{}{}
	}
	if item.URL != "" {
		e.urls[item.URL] = struct{}{}
	}
	return true
}

func (e *Exclusions) Len() int { return len(e.Items) }

// ToFile rewrites the exclude file atomically.
func (e *Exclusions) ToFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".exclusions_*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
