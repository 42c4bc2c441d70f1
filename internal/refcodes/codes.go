// Package refcodes holds the EWC reference list the classifier chooses codes from.
package refcodes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Entry types of an EWC code.
const (
	AbsoluteHazardous    = "AH"
	AbsoluteNonHazardous = "AN"
	MirrorHazardous      = "MH"
	MirrorNonHazardous   = "MN"
)

type Code struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
	Chapter     string `json:"chapter" yaml:"chapter"`
	EntryType   string `json:"entry_type" yaml:"entry_type"`
	Hazardous   bool   `json:"hazardous" yaml:"hazardous"`
	Priority    bool   `json:"priority" yaml:"priority"`
}

// Set is an immutable, presentation-ordered code list. Safe for concurrent use.
type Set struct {
	codes []Code
	index map[string]struct{}
}

// NewSet orders codes priority-first, each group ascending by code. Later duplicates of a
// code are dropped.
func NewSet(codes []Code) Set {
	seen := make(map[string]struct{}, len(codes))
	ordered := make([]Code, 0, len(codes))
	for _, c := range codes {
		if c.Code == "" {
			continue
		}
		if _, dup := seen[c.Code]; dup {
			continue
		}
		seen[c.Code] = struct{}{}
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority
		}
		return ordered[i].Code < ordered[j].Code
	})
	return Set{codes: ordered, index: seen}
}

// Codes returns the ordered list. Callers must not modify it.
func (s Set) Codes() []Code { return s.codes }

func (s Set) Len() int { return len(s.codes) }

func (s Set) Valid(code string) bool {
	_, ok := s.index[code]
	return ok
}

func (s Set) PriorityCount() int {
	n := 0
	for _, c := range s.codes {
		if c.Priority {
			n++
		}
	}
	return n
}

// Source loads the raw list from wherever it is stored.
type Source interface {
	Load(ctx context.Context) ([]Code, error)
}

// Cache loads the list once and shares it. A failed load is not cached.
type Cache struct {
	src    Source
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	set    Set
}

func NewCache(src Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{src: src, logger: logger}
}

func (c *Cache) Get(ctx context.Context) (Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.set, nil
	}
	raw, err := c.src.Load(ctx)
	if err != nil {
		c.logger.Error("refcodes.load_failed", "error", err)
		return Set{}, fmt.Errorf("load reference codes: %w", err)
	}
	c.set = NewSet(raw)
	c.loaded = true
	c.logger.Info("refcodes.loaded", "codes", c.set.Len(), "priority", c.set.PriorityCount())
	return c.set, nil
}
