package store

import (
	"context"
	"time"

	"github.com/JakeFAU/ocsync/internal/feed"
)

// MergeResult describes what a single merge did to the primary store.
type MergeResult struct {
	// ID is the internal open_chat id.
	ID int64
	// Created is true when the entity was observed for the first time.
	Created bool
	// Updated is true when an existing row differed and was rewritten.
	Updated bool
	// PrevMember is the member count stored before this merge (0 when created).
	PrevMember int
}

// SnapshotRow is one ranked entity within a partition snapshot.
type SnapshotRow struct {
	Position        int
	OpenChatID      int64
	DiffMember      int
	PercentIncrease float64
}

// Candidate identifies an entity selected for a detail refetch.
type Candidate struct {
	ID   int64
	EMID string
}

// Catalog is the crawler-facing view of the primary store. It is written by a
// single goroutine at a time: only the coordinator that owns a crawl merges.
type Catalog interface {
	// MergeOpenChat inserts the entity or updates it when any field differs.
	// Repeated merges of the same external id never create a second row.
	MergeOpenChat(ctx context.Context, e feed.Entity) (MergeResult, error)
	// ReplaceSnapshot swaps the partition's snapshot rows and appends them to
	// the position history, all in one transaction.
	ReplaceSnapshot(ctx context.Context, p feed.Partition, rows []SnapshotRow, at time.Time) error
	// ExtendedCandidates lists entities outside every snapshot whose member
	// count moved since the given time.
	ExtendedCandidates(ctx context.Context, since time.Time, limit int) ([]Candidate, error)
	// RecordDeleted appends to the deleted-entity log.
	RecordDeleted(ctx context.Context, c Candidate, at time.Time) error
}

// Maintenance holds the set-based post-merge jobs run after every crawl.
type Maintenance interface {
	// RefreshMemberColumns samples member counts into the hourly and daily history.
	RefreshMemberColumns(ctx context.Context, at time.Time) (int64, error)
	// ComputeRankingDeltas rebuilds the hourly member delta table.
	ComputeRankingDeltas(ctx context.Context, at time.Time) (int64, error)
	// MissingInvitations lists entities without a stored invitation link.
	MissingInvitations(ctx context.Context, limit int) ([]Candidate, error)
	// SetInvitationURL stores a refreshed invitation link.
	SetInvitationURL(ctx context.Context, id int64, url string) error
	// RefreshRankingBan opens bans for large entities missing from every
	// snapshot and closes bans for entities that reappeared.
	RefreshRankingBan(ctx context.Context, at time.Time, minMember int) (opened, closed int64, err error)
}
