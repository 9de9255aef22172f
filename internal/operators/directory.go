// Package operators resolves free-text operator names against the
// merchant/operator directory.
package operators

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/worq1337/parcer-sub000/internal/model"
)

// Store is the slice of the persistence layer the directory reads from.
type Store interface {
	GetOperators(ctx context.Context) ([]model.Operator, error)
	SaveOperator(ctx context.Context, op *model.Operator) error
}

const cacheTTL = 5 * time.Minute

// Directory is a read-through cache over the operator directory. The directory
// itself is owned by a separate data collaborator; the pipeline only resolves
// names against it.
type Directory struct {
	cacheExpiry time.Time
	store       Store
	cache       []model.Operator
	mu          sync.RWMutex
}

// NewDirectory creates a directory resolver backed by the given store.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Resolve finds the directory entry whose canonical name or any synonym
// occurs in the given text. Returns nil when nothing matches.
func (d *Directory) Resolve(ctx context.Context, text string) (*model.Operator, error) {
	normalized := normalize(text)
	if normalized == "" {
		return nil, nil
	}

	ops, err := d.operators(ctx)
	if err != nil {
		return nil, err
	}

	for i := range ops {
		op := &ops[i]
		if candidate := normalize(op.CanonicalName); candidate != "" && strings.Contains(normalized, candidate) {
			return op, nil
		}
		for _, synonym := range op.Synonyms {
			if candidate := normalize(synonym); candidate != "" && strings.Contains(normalized, candidate) {
				return op, nil
			}
		}
	}

	return nil, nil
}

// Add saves a directory entry and drops the cache so the entry takes effect
// on the next lookup.
func (d *Directory) Add(ctx context.Context, op *model.Operator) error {
	if err := d.store.SaveOperator(ctx, op); err != nil {
		return fmt.Errorf("failed to save operator: %w", err)
	}
	d.Invalidate()
	return nil
}

// Invalidate drops the cache so the next lookup re-reads the store.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = nil
	d.cacheExpiry = time.Time{}
}

func (d *Directory) operators(ctx context.Context) ([]model.Operator, error) {
	d.mu.RLock()
	if d.cache != nil && time.Now().Before(d.cacheExpiry) {
		cached := d.cache
		d.mu.RUnlock()
		return cached, nil
	}
	d.mu.RUnlock()

	ops, err := d.store.GetOperators(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator directory: %w", err)
	}

	d.mu.Lock()
	d.cache = ops
	d.cacheExpiry = time.Now().Add(cacheTTL)
	d.mu.Unlock()

	return ops, nil
}

func normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// Seed inserts a starter set of well-known operators. Existing entries with
// the same canonical name are updated in place.
func Seed(ctx context.Context, store Store) error {
	defaults := []model.Operator{
		{CanonicalName: "Korzinka.uz", AppName: "Korzinka"},
		{CanonicalName: "Makro", AppName: "Makro"},
		{CanonicalName: "Uzum Bank", AppName: "Uzum Bank"},
		{CanonicalName: "Payme", AppName: "Payme", IsP2P: true, Synonyms: []string{"payme p2p"}},
		{CanonicalName: "Click", AppName: "Click", Synonyms: []string{"click evolution"}},
		{CanonicalName: "Humo", AppName: "Humo", IsP2P: true, Synonyms: []string{"humo p2p", "p2p humo"}},
		{CanonicalName: "Uzcard", AppName: "Uzcard", IsP2P: true, Synonyms: []string{"uzcard p2p"}},
	}

	for i := range defaults {
		if err := store.SaveOperator(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("failed to seed operator %q: %w", defaults[i].CanonicalName, err)
		}
	}
	return nil
}
