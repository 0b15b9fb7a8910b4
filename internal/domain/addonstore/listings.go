package addonstore

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

const maxSummaryRunes = 160

type listingsPage struct {
	Listings []types.StoreListing `json:"listings"`
}

type listingsCache struct {
	mu      sync.RWMutex
	items   []types.StoreListing
	fetched time.Time
}

func (lc *listingsCache) get(ttl time.Duration) ([]types.StoreListing, bool) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	if lc.items == nil || ttl <= 0 || time.Since(lc.fetched) > ttl {
		return nil, false
	}
	return cloneListings(lc.items), true
}

func (lc *listingsCache) put(items []types.StoreListing) {
	lc.mu.Lock()
	lc.items = cloneListings(items)
	lc.fetched = time.Now()
	lc.mu.Unlock()
}

func (lc *listingsCache) invalidate() {
	lc.mu.Lock()
	lc.items = nil
	lc.mu.Unlock()
}

// ListListings returns the catalog. Concurrent callers share one request and
// results are cached for the configured TTL. The shared request does not
// inherit any one caller's cancellation; each caller stops waiting on its
// own context.
func (c *Client) ListListings(ctx context.Context) ([]types.StoreListing, error) {
	if items, ok := c.cache.get(c.cfg.ListingsTTL); ok {
		return items, nil
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(OpListListings, func() (interface{}, error) {
		var page listingsPage
		_, err := c.do(fetchCtx, OpListListings, func(r *resty.Request) (*resty.Response, error) {
			return r.SetResult(&page).Get("/listings")
		})
		if err != nil {
			return nil, err
		}
		for i := range page.Listings {
			c.clean(&page.Listings[i])
		}
		c.cache.put(page.Listings)
		return page.Listings, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneListings(res.Val.([]types.StoreListing)), nil
	case <-ctx.Done():
		return nil, &types.StoreUnavailableError{Op: OpListListings, Err: ctx.Err()}
	}
}

// GetListing returns one listing
func (c *Client) GetListing(ctx context.Context, listingID string) (*types.StoreListing, error) {
	var listing types.StoreListing
	_, err := c.do(ctx, OpGetListing, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&listing).
			SetPathParam("id", listingID).
			Get("/listings/{id}")
	})
	if err != nil {
		return nil, err
	}
	c.clean(&listing)
	return &listing, nil
}

// InvalidateListings drops the cached catalog
func (c *Client) InvalidateListings() {
	c.cache.invalidate()
}

// clean sanitizes the HTML description and derives a plain-text summary
func (c *Client) clean(l *types.StoreListing) {
	l.Description = c.sanitizer.Sanitize(l.Description)
	if l.Summary == "" {
		l.Summary = summarize(l.Description)
	} else {
		l.Summary = summarize(l.Summary)
	}
}

// summarize returns the leading plain text of an HTML fragment
func summarize(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	text := doc.Find("p").First().Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxSummaryRunes {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:maxSummaryRunes])
	if i := strings.LastIndex(cut, " "); i > maxSummaryRunes/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func cloneListings(in []types.StoreListing) []types.StoreListing {
	out := make([]types.StoreListing, len(in))
	for i, l := range in {
		l.Categories = append([]string(nil), l.Categories...)
		out[i] = l
	}
	return out
}

// resolveDownload makes a listing's download url absolute against the base url
func (c *Client) resolveDownload(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/")
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
