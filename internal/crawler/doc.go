// Package crawler drives the ranking feed into the primary store.
//
// A crawl walks every feed partition, merges each entity into the catalog and
// swaps the partition's snapshot rows once the partition is complete. The
// sequential Coordinator does this in one goroutine. The ParallelCoordinator
// hands partition pairs to a Launcher whose workers only fetch and stage; the
// coordinator stays the single writer and merges whatever has been staged.
// ExtendedCrawler refetches entities outside every snapshot during the daily run.
//
// Every fetch loop polls store.RankingKill (or store.ExtendedCrawlKill) before
// each page and returns ErrCanceled once it is raised.
package crawler
