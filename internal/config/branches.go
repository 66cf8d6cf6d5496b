package config

import (
	"fmt"
	"sort"

	"trove-capacity-lab/internal/domain"
)

// BranchTable maps branch ids and display names to branch constants.
// Lookups are required: a miss means the configuration is incomplete.
type BranchTable struct {
	byID   map[string]domain.Branch
	byName map[string]domain.Branch
}

// NewBranchTable validates entries and builds the lookup.
// Fails on empty table, duplicate id or name, non-positive MCR, or MCR >= CCR.
func NewBranchTable(entries []BranchConfig) (*BranchTable, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty branch table", ErrInvalidBranch)
	}

	t := &BranchTable{
		byID:   make(map[string]domain.Branch, len(entries)),
		byName: make(map[string]domain.Branch, len(entries)),
	}
	for _, e := range entries {
		id := normalizeID(e.ID)
		if id == "" || e.Name == "" {
			return nil, fmt.Errorf("%w: id and name are required", ErrInvalidBranch)
		}
		if e.MCR <= 0 {
			return nil, fmt.Errorf("%w: %s: mcr must be positive", ErrInvalidBranch, e.Name)
		}
		b := domain.Branch{ID: id, Name: e.Name, MCR: e.MCR, CCR: e.CCR}
		if b.Buffer() <= 0 {
			return nil, fmt.Errorf("%w: %s: mcr %.4f must be below ccr %.4f", ErrInvalidBranch, e.Name, e.MCR, e.CCR)
		}
		if _, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidBranch, id)
		}
		if _, dup := t.byName[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidBranch, e.Name)
		}
		t.byID[id] = b
		t.byName[e.Name] = b
	}
	return t, nil
}

// ByID returns the branch for a trove manager address.
func (t *BranchTable) ByID(id string) (domain.Branch, bool) {
	b, ok := t.byID[normalizeID(id)]
	return b, ok
}

// ByName returns the branch for a display name.
func (t *BranchTable) ByName(name string) (domain.Branch, bool) {
	b, ok := t.byName[name]
	return b, ok
}

// Branches returns all branches sorted by name.
func (t *BranchTable) Branches() []domain.Branch {
	out := make([]domain.Branch, 0, len(t.byName))
	for _, b := range t.byName {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
