package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tradein/internal/ics"
	appLog "tradein/internal/log"
	"tradein/internal/model"
)

type ICSOptions struct {
	Sources  []ics.Source
	Fetcher  *ics.Fetcher
	Store    *ics.Store
	Location *time.Location
}

// ICS serves availability from subscribed feeds plus the local store and
// writes bookings into the store. Feeds are read from a snapshot that
// Refresh replaces; the store is re-read on every call so new bookings
// are visible immediately.
type ICS struct {
	opts ICSOptions

	mu           sync.RWMutex
	snapshot     []ics.ParsedEvent
	fetchedAt    time.Time
	oldestCached time.Time
}

func NewICS(opts ICSOptions) *ICS {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &ICS{opts: opts}
}

func (p *ICS) Name() string { return "ics" }

// Refresh fetches and parses every feed. On a parse error the previous
// snapshot stays in place and the error is returned.
func (p *ICS) Refresh(ctx context.Context) error {
	if len(p.opts.Sources) == 0 {
		p.swap(nil, time.Time{})
		return nil
	}
	if p.opts.Fetcher == nil {
		return fmt.Errorf("%w: ics fetcher missing", ErrNotConfigured)
	}
	results, errs := p.opts.Fetcher.FetchAll(ctx, p.opts.Sources)
	if len(errs) > 0 {
		// A missing feed would read as free time.
		return fmt.Errorf("calendar: refresh ics: %w", errors.Join(errs...))
	}
	var (
		events []ics.ParsedEvent
		cached int
		oldest time.Time
	)
	for _, res := range results {
		parsed, err := ics.ParseICS(res.Source, res.Body, p.opts.Location)
		if err != nil {
			return err
		}
		events = append(events, parsed...)
		if res.FromCache {
			cached++
			if oldest.IsZero() || res.CachedAt.Before(oldest) {
				oldest = res.CachedAt
			}
		}
	}
	p.swap(events, oldest)
	appLog.Info("ics snapshot refreshed", "sources", len(results), "events", len(events), "from_cache", cached)
	return nil
}

func (p *ICS) swap(events []ics.ParsedEvent, oldestCached time.Time) {
	p.mu.Lock()
	p.snapshot = events
	p.fetchedAt = time.Now()
	p.oldestCached = oldestCached
	p.mu.Unlock()
}

// OldestCached is the confirmation time of the oldest cached feed body in
// the current snapshot, zero when every feed was fetched fresh.
func (p *ICS) OldestCached() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.oldestCached
}

// FetchedAt is the time of the last successful refresh, zero before it.
func (p *ICS) FetchedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fetchedAt
}

func (p *ICS) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	if p.FetchedAt().IsZero() {
		if err := p.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	p.mu.RLock()
	events := append([]ics.ParsedEvent(nil), p.snapshot...)
	p.mu.RUnlock()

	if p.opts.Store != nil {
		body, err := p.opts.Store.Body()
		if err != nil {
			return nil, err
		}
		local, err := ics.ParseICS(p.opts.Store.Source(), body, p.opts.Location)
		if err != nil {
			return nil, err
		}
		events = append(events, local...)
	}

	out, err := ics.Expand(events, ics.ExpandConfig{RangeStart: start, RangeEnd: end})
	if err != nil {
		return nil, err
	}
	kv := []any{
		"provider", "ics",
		"calendar_id", calendarID,
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339),
		"count", len(out),
	}
	if oldest := p.OldestCached(); !oldest.IsZero() {
		kv = append(kv, "cached_since", oldest.UTC().Format(time.RFC3339))
	}
	appLog.Info("calendar events listed", kv...)
	return out, nil
}

func (p *ICS) CreateEvent(_ context.Context, calendarID string, req model.BookingRequest) (model.CreatedEvent, error) {
	if p.opts.Store == nil {
		return model.CreatedEvent{}, ErrReadOnly
	}
	created, existed, err := p.opts.Store.Add(EventID(req.RequestID), req)
	if err != nil {
		return model.CreatedEvent{}, err
	}
	if existed {
		appLog.Warn("calendar event already existed", "calendar_id", calendarID, "event_id", created.EventID)
	}
	return created, nil
}

// StartRefresh schedules Refresh on a cron spec. Stop the returned cron on
// shutdown.
func (p *ICS) StartRefresh(spec string, timeout time.Duration) (*cron.Cron, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Refresh(ctx); err != nil {
			appLog.Error("scheduled ics refresh failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: refresh schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
