// Package feedtest provides an in-memory feed.Client for tests and local runs.
package feedtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/ocsync/internal/feed"
)

// Entity returns a valid entity with the given id and member count.
func Entity(emid string, member int) feed.Entity {
	return feed.Entity{
		EMID:        emid,
		Name:        "chat " + emid,
		ImageHash:   "img-" + emid,
		MemberCount: member,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Client serves canned pages and details. Continuation tokens are page
// indexes. Unknown partitions are empty and unknown details are not found.
type Client struct {
	mu           sync.Mutex
	pages        map[feed.Partition][][]feed.Entity
	pageErr      map[feed.Partition]error
	details      map[string]feed.Entity
	detailErr    map[string]error
	requests     []feed.PageRequest
	detailsAsked []string

	// OnPage, when set, runs before every page is served.
	OnPage func(req feed.PageRequest)
}

// NewClient constructs an empty Client.
func NewClient() *Client {
	return &Client{
		pages:     make(map[feed.Partition][][]feed.Entity),
		pageErr:   make(map[feed.Partition]error),
		details:   make(map[string]feed.Entity),
		detailErr: make(map[string]error),
	}
}

// SetPages installs the pages of a partition.
func (c *Client) SetPages(p feed.Partition, pages ...[]feed.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[p] = pages
}

// FailPages makes every page request of p fail with err.
func (c *Client) FailPages(p feed.Partition, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageErr[p] = err
}

// SetDetail installs the detail answer for an entity.
func (c *Client) SetDetail(e feed.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[e.EMID] = e
}

// FailDetail makes the detail request of emid fail with err.
func (c *Client) FailDetail(emid string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detailErr[emid] = err
}

// FetchPage implements feed.Client.
func (c *Client) FetchPage(ctx context.Context, req feed.PageRequest) (feed.Page, error) {
	if err := ctx.Err(); err != nil {
		return feed.Page{}, err
	}
	if c.OnPage != nil {
		c.OnPage(req)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if err := c.pageErr[req.Partition]; err != nil {
		return feed.Page{}, err
	}
	idx := 0
	if req.Token != "" {
		n, err := strconv.Atoi(req.Token)
		if err != nil {
			return feed.Page{}, fmt.Errorf("bad token %q", req.Token)
		}
		idx = n
	}
	pages := c.pages[req.Partition]
	if idx >= len(pages) {
		return feed.Page{}, nil
	}
	page := feed.Page{Entities: pages[idx]}
	if idx+1 < len(pages) {
		page.Next = strconv.Itoa(idx + 1)
	}
	return page, nil
}

// FetchDetail implements feed.Client.
func (c *Client) FetchDetail(ctx context.Context, emid string) (feed.Entity, error) {
	if err := ctx.Err(); err != nil {
		return feed.Entity{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detailsAsked = append(c.detailsAsked, emid)
	if err := c.detailErr[emid]; err != nil {
		return feed.Entity{}, err
	}
	e, ok := c.details[emid]
	if !ok {
		return feed.Entity{}, fmt.Errorf("detail %q: %w", emid, feed.ErrNotFound)
	}
	return e, nil
}

// Requests returns every page request served so far.
func (c *Client) Requests() []feed.PageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]feed.PageRequest(nil), c.requests...)
}

// DetailRequests returns every entity id asked for so far.
func (c *Client) DetailRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.detailsAsked...)
}
