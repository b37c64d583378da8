package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound signals that the feed no longer knows the requested entity.
var ErrNotFound = errors.New("feed entity not found")

// SortKind selects one of the two orderings the feed publishes per category.
type SortKind string

// Sort kinds published by the feed.
const (
	SortRanking SortKind = "ranking"
	SortRising  SortKind = "rising"
)

// Sorts lists every sort kind in crawl order.
var Sorts = []SortKind{SortRising, SortRanking}

// QueryValue is the value of the feed's sort query parameter.
func (s SortKind) QueryValue() string {
	return strings.ToUpper(string(s))
}

// ParseSortKind converts a textual sort kind into a SortKind.
func ParseSortKind(raw string) (SortKind, error) {
	switch SortKind(strings.ToLower(strings.TrimSpace(raw))) {
	case SortRanking:
		return SortRanking, nil
	case SortRising:
		return SortRising, nil
	default:
		return "", fmt.Errorf("unknown sort kind %q", raw)
	}
}

// Partition is one independently paginated (sort, category) slice of the feed.
type Partition struct {
	Sort     SortKind
	Category int
}

// String renders the partition as "sort:category", the form used in task
// arguments and flag names.
func (p Partition) String() string {
	return fmt.Sprintf("%s:%d", p.Sort, p.Category)
}

// ParsePartition is the inverse of Partition.String.
func ParsePartition(raw string) (Partition, error) {
	sortPart, catPart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Partition{}, fmt.Errorf("partition %q: missing ':'", raw)
	}
	sort, err := ParseSortKind(sortPart)
	if err != nil {
		return Partition{}, fmt.Errorf("partition %q: %w", raw, err)
	}
	category, err := strconv.Atoi(catPart)
	if err != nil {
		return Partition{}, fmt.Errorf("partition %q: category: %w", raw, err)
	}
	return Partition{Sort: sort, Category: category}, nil
}

// Partitions expands categories into the full ordered partition list, every
// category of the first sort kind before any category of the next.
func Partitions(categories []int) []Partition {
	out := make([]Partition, 0, len(categories)*len(Sorts))
	for _, sort := range Sorts {
		for _, category := range categories {
			out = append(out, Partition{Sort: sort, Category: category})
		}
	}
	return out
}

// Entity is one open chat as published by the feed.
type Entity struct {
	EMID          string    `json:"emid" validate:"required,max=255"`
	Name          string    `json:"name" validate:"required,max=255"`
	Description   string    `json:"description" validate:"max=4000"`
	ImageHash     string    `json:"image_hash" validate:"required,max=128"`
	MemberCount   int       `json:"member_count" validate:"gte=1"`
	Badges        []int     `json:"badges" validate:"dive,gte=0,lte=2"`
	JoinMethod    int       `json:"join_method" validate:"gte=0,lte=2"`
	Category      int       `json:"category" validate:"gte=0"`
	InvitationURL string    `json:"invitation_url" validate:"omitempty,url"`
	CreatedAt     time.Time `json:"created_at"`
}

// Emblem collapses the badge list into the single emblem column the primary
// store keeps: the highest badge wins, zero when there is none.
func (e Entity) Emblem() int {
	emblem := 0
	for _, b := range e.Badges {
		if b > emblem {
			emblem = b
		}
	}
	return emblem
}

// Page is one page of a partition listing.
type Page struct {
	Entities []Entity
	// Next is the continuation token for the following page, empty on the last page.
	Next string
}

// PageRequest selects one page of one partition.
type PageRequest struct {
	Partition Partition
	Token     string
	Limit     int
}

// Client fetches pages and single entities from the external feed.
type Client interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
	FetchDetail(ctx context.Context, emid string) (Entity, error)
}
