package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/store"
)

// OpenChat is the in-memory shape of an open_chat row.
type OpenChat struct {
	ID            int64
	EMID          string
	Name          string
	Description   string
	ImageHash     string
	Member        int
	Category      int
	Emblem        int
	JoinMethod    int
	InvitationURL string
	UpdatedAt     time.Time
}

// DeletedRecord is one deleted-log entry.
type DeletedRecord struct {
	Candidate store.Candidate
	At        time.Time
}

// Catalog is an in-memory store.Catalog. Unlike the PostgreSQL store it
// tolerates concurrent writers, which lets tests assert the unique-emid
// invariant under contention.
type Catalog struct {
	mu         sync.Mutex
	nextID     int64
	byEMID     map[string]*OpenChat
	snapshots  map[feed.Partition][]store.SnapshotRow
	history    []store.SnapshotRow
	deleted    []DeletedRecord
	candidates []store.Candidate
	now        func() time.Time
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byEMID:    make(map[string]*OpenChat),
		snapshots: make(map[feed.Partition][]store.SnapshotRow),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MergeOpenChat upserts by external id.
func (c *Catalog) MergeOpenChat(_ context.Context, e feed.Entity) (store.MergeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.byEMID[e.EMID]
	if !ok {
		c.nextID++
		c.byEMID[e.EMID] = &OpenChat{
			ID:            c.nextID,
			EMID:          e.EMID,
			Name:          e.Name,
			Description:   e.Description,
			ImageHash:     e.ImageHash,
			Member:        e.MemberCount,
			Category:      e.Category,
			Emblem:        e.Emblem(),
			JoinMethod:    e.JoinMethod,
			InvitationURL: e.InvitationURL,
			UpdatedAt:     c.now(),
		}
		return store.MergeResult{ID: c.nextID, Created: true}, nil
	}
	res := store.MergeResult{ID: existing.ID, PrevMember: existing.Member}
	next := *existing
	next.Name = e.Name
	next.Description = e.Description
	next.ImageHash = e.ImageHash
	next.Member = e.MemberCount
	next.Category = e.Category
	next.Emblem = e.Emblem()
	next.JoinMethod = e.JoinMethod
	if e.InvitationURL != "" {
		next.InvitationURL = e.InvitationURL
	}
	if next != *existing {
		next.UpdatedAt = c.now()
		*existing = next
		res.Updated = true
	}
	return res, nil
}

// ReplaceSnapshot swaps the partition rows and appends them to history.
func (c *Catalog) ReplaceSnapshot(_ context.Context, p feed.Partition, rows []store.SnapshotRow, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[p] = append([]store.SnapshotRow(nil), rows...)
	c.history = append(c.history, rows...)
	return nil
}

// ExtendedCandidates returns the candidates seeded with SetCandidates.
func (c *Catalog) ExtendedCandidates(_ context.Context, _ time.Time, limit int) ([]store.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]store.Candidate(nil), c.candidates...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordDeleted appends to the deleted log.
func (c *Catalog) RecordDeleted(_ context.Context, cand store.Candidate, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, DeletedRecord{Candidate: cand, At: at})
	return nil
}

// SetCandidates seeds the extended crawl selection.
func (c *Catalog) SetCandidates(cands []store.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append([]store.Candidate(nil), cands...)
}

// OpenChats returns a copy of every row ordered by id.
func (c *Catalog) OpenChats() []OpenChat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OpenChat, 0, len(c.byEMID))
	for _, oc := range c.byEMID {
		out = append(out, *oc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns the current rows of one partition.
func (c *Catalog) Snapshot(p feed.Partition) ([]store.SnapshotRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.snapshots[p]
	return append([]store.SnapshotRow(nil), rows...), ok
}

// Deleted returns the deleted log.
func (c *Catalog) Deleted() []DeletedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DeletedRecord(nil), c.deleted...)
}
