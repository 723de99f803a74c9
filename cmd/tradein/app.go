package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"tradein/internal/assistant"
	"tradein/internal/availability"
	"tradein/internal/booking"
	"tradein/internal/calendar"
	"tradein/internal/config"
	"tradein/internal/ics"
	"tradein/internal/llm"
	appLog "tradein/internal/log"
	"tradein/internal/session"
	"tradein/internal/web"
)

// app is everything serve and slots need, built from one config.
type app struct {
	cfg       *config.Config
	provider  calendar.Provider
	assistant *assistant.Assistant
	refresh   *cron.Cron
}

func (a *app) close() {
	if a.refresh != nil {
		<-a.refresh.Stop().Done()
	}
}

// newApp wires the provider, business rules and assistant. withRefresh
// starts the periodic ICS refresh.
func newApp(ctx context.Context, cfg *config.Config, withRefresh bool) (*app, error) {
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	scanner, err := availability.NewScanner(rules)
	if err != nil {
		return nil, err
	}
	zones, err := cfg.ZoneRanges()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	switch cfg.Calendar.Provider {
	case config.ProviderGoogle:
		client, err := calendar.OAuth{Dir: cfg.Calendar.CredentialsDir, Port: cfg.Calendar.CallbackPort}.HTTPClient(ctx)
		if err != nil {
			return nil, err
		}
		g, err := calendar.NewGoogle(ctx, calendar.GoogleOptions{Location: rules.Location}, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		a.provider = g
	case config.ProviderICS:
		p, err := newICSProvider(ctx, cfg, rules.Location)
		if err != nil {
			return nil, err
		}
		if withRefresh && len(cfg.Calendar.ICS) > 0 {
			c, err := p.StartRefresh(cfg.Calendar.RefreshCron, cfg.Calendar.ReadTimeout()*3)
			if err != nil {
				return nil, err
			}
			a.refresh = c
		}
		a.provider = p
	default:
		return nil, fmt.Errorf("%w: provider %q", calendar.ErrNotConfigured, cfg.Calendar.Provider)
	}

	writer := booking.NewWriter(a.provider, a.provider, rules, booking.Options{
		CalendarID:        cfg.Calendar.CalendarID,
		VerifyBeforeWrite: cfg.Calendar.VerifyBeforeWrite,
		ReadTimeout:       cfg.Calendar.ReadTimeout(),
		WriteTimeout:      cfg.Calendar.WriteTimeout(),
	})
	deps := assistant.Deps{Scanner: scanner, Events: a.provider, Writer: writer}
	if cfg.Gemini.APIKey != "" {
		n, err := llm.NewGemini(ctx, llm.Options{
			APIKey:       cfg.Gemini.APIKey,
			Model:        cfg.Gemini.Model,
			Timeout:      time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
			ContactPhone: cfg.ContactPhone,
		})
		if err != nil {
			appLog.Warn("narrator disabled", "error", err.Error())
		} else {
			deps.Narrator = n
		}
	}

	a.assistant, err = assistant.New(assistant.Config{
		CalendarID:   cfg.Calendar.CalendarID,
		StartOffset:  cfg.StartOffsetDays,
		HorizonDays:  cfg.HorizonDays,
		Zones:        zones,
		ContactPhone: cfg.ContactPhone,
		ReadTimeout:  cfg.Calendar.ReadTimeout(),
	}, deps)
	if err != nil {
		a.close()
		return nil, err
	}
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", rules.Location.String(),
		"provider", a.provider.Name(),
		"calendar_id", cfg.Calendar.CalendarID,
		"horizon_days", cfg.HorizonDays,
		"excluded_weekdays", rules.ExcludedWeekdays.String(),
		"holidays", len(rules.Holidays),
		"narrator", deps.Narrator != nil,
	)
	return a, nil
}

// newICSProvider builds the feed provider and loads the first snapshot. A
// failed first fetch is logged; the cron refresh retries it.
func newICSProvider(ctx context.Context, cfg *config.Config, loc *time.Location) (*calendar.ICS, error) {
	sources := make([]ics.Source, 0, len(cfg.Calendar.ICS))
	for _, s := range cfg.Calendar.ICS {
		sources = append(sources, ics.Source{ID: s.ID, URL: s.URL, Name: s.Name})
	}
	p := calendar.NewICS(calendar.ICSOptions{
		Sources:  sources,
		Fetcher:  ics.NewFetcher(cfg.Calendar.CacheDir, cfg.Calendar.ReadTimeout(), cfg.Calendar.CacheMaxStale()),
		Store:    ics.NewStore(cfg.Calendar.StorePath, "Trade-In Appointments"),
		Location: loc,
	})
	if err := p.Refresh(ctx); err != nil {
		appLog.Error("initial ics refresh failed", err, "sources", len(sources))
	}
	return p, nil
}

func (a *app) server() *web.Server {
	cfg := a.cfg
	sessions := session.NewStore(time.Duration(cfg.SessionTTLMinutes) * time.Minute)
	return web.NewServer(a.assistant, sessions, web.Options{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   rate.Limit(cfg.RateLimit.PerSecond),
		Burst:       cfg.RateLimit.Burst,
		Credentials: cfg.Credentials(),
	})
}
