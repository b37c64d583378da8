package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/ocsync/internal/feed"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Flag names one persisted run-state row.
type Flag string

// Run-state flags shared by the orchestrator, the coordinators and the CLI.
const (
	HourlyTaskActive Flag = "is_hourly_task_active"
	DailyTaskActive  Flag = "is_daily_task_active"
	// RankingKill asks every ranking fetch loop (sequential, parallel and the
	// fetch workers) to stop at its next page boundary.
	RankingKill Flag = "ranking_kill"
	// ExtendedCrawlKill asks the daily extended crawl to stop at its next entity.
	ExtendedCrawlKill         Flag = "daily_crawl_kill"
	InvitationRefreshActive   Flag = "is_invitation_refresh_active"
	InvitationRefreshDeferred Flag = "is_invitation_refresh_deferred"
	ArchiveImportActive       Flag = "is_archive_import_active"
	CacheVersion              Flag = "cache_version"
	LastHourlyRunAt           Flag = "last_hourly_run_at"
	LastDailyRunAt            Flag = "last_daily_run_at"
	LastArchiveImportAt       Flag = "last_archive_import_at"
)

// DownloadedFlag is raised by a fetch worker once a partition is staged.
func DownloadedFlag(p feed.Partition) Flag {
	return Flag("downloaded:" + p.String())
}

// LastDownloadedFlag stores the crawl cycle a partition was last merged for.
func LastDownloadedFlag(p feed.Partition) Flag {
	return Flag("last_downloaded:" + p.String())
}

// SyncState persists boolean and string run-state keyed by Flag.
//
// Every write is an upsert that touches only its own column: setting the
// boolean never clobbers the string stored under the same flag and vice versa.
// Missing flags read as false / absent.
type SyncState interface {
	GetBool(ctx context.Context, flag Flag) (bool, error)
	SetTrue(ctx context.Context, flag Flag) error
	SetFalse(ctx context.Context, flag Flag) error
	// GetString returns ok=false when no string was ever stored for flag.
	GetString(ctx context.Context, flag Flag) (value string, ok bool, err error)
	SetString(ctx context.Context, flag Flag, value string) error
}
