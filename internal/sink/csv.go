// Package sink persists matched listings to an append-only CSV file.
package sink

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spigell/jobscout/internal/listing"
)

// Header is written once, when the file is created.
var Header = []string{"sequence", "role", "company", "location", "description", "link"}

// Record is one persisted row.
type Record struct {
	Sequence    int
	Role        string
	Company     string
	Location    string
	Description string
	Link        string
}

func (r Record) row() []string {
	return []string{strconv.Itoa(r.Sequence), r.Role, r.Company, r.Location, r.Description, r.Link}
}

// CSV appends records to a file. Sequence numbers continue from the highest
// one already in the file, so a restarted session never reuses a number.
type CSV struct {
	mu    sync.Mutex
	path  string
	last  int
	links map[string]struct{}
}

// Open makes sure the file exists with its header and loads the existing
// sequence counter and links.
func Open(path string) (*CSV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("output path is required")
	}

	c := &CSV{path: path, links: make(map[string]struct{})}
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CSV) ensureInitialized() error {
	info, err := os.Stat(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c.writeHeader(os.O_CREATE | os.O_EXCL | os.O_WRONLY)
	case err != nil:
		return fmt.Errorf("stat output file: %w", err)
	case info.Size() == 0:
		return c.writeHeader(os.O_WRONLY | os.O_TRUNC)
	}

	return c.load()
}

func (c *CSV) writeHeader(flag int) error {
	f, err := os.OpenFile(c.path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (c *CSV) load() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read output file %q: %w", c.path, err)
		}
		if line == 1 && len(row) > 0 && row[0] == Header[0] {
			continue
		}
		if len(row) == 0 {
			continue
		}

		seq, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return fmt.Errorf("output file %q line %d: bad sequence %q", c.path, line, row[0])
		}
		if seq > c.last {
			c.last = seq
		}
		if len(row) == len(Header) {
			if link := strings.TrimSpace(row[len(Header)-1]); link != "" {
				c.links[link] = struct{}{}
			}
		}
	}
}

// Append assigns the next sequence number to item and writes it. The file is
// flushed and closed before Append returns.
func (c *CSV) Append(item listing.Item) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := Record{
		Sequence:    c.last + 1,
		Role:        item.Role,
		Company:     item.Company,
		Location:    item.Location,
		Description: item.Description,
		Link:        item.Link,
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(rec.row()); err != nil {
		return Record{}, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Record{}, fmt.Errorf("write output file: %w", err)
	}

	c.last = rec.Sequence
	if rec.Link != "" {
		c.links[rec.Link] = struct{}{}
	}

	return rec, nil
}

// HasLink reports whether a record with this link is already persisted.
func (c *CSV) HasLink(link string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[strings.TrimSpace(link)]
	return ok
}

// Last is the highest sequence number written so far.
func (c *CSV) Last() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *CSV) Path() string { return c.path }
