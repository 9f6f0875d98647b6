package handler

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
	"github.com/adaptivelab/bitly-historics/internal/app/service"
	"github.com/adaptivelab/bitly-historics/internal/export"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	dateLayout        = "2006-01-02"
	defaultClicksDays = 30
	eventsLimit       = 50
)

// Reporter reads aggregated click history.
type Reporter interface {
	Domains(ctx context.Context) ([]string, error)
	LinkReport(ctx context.Context, domain string) ([]service.LinkRow, error)
	DomainDailyClicks(ctx context.Context, domain string, from, to time.Time) (service.DomainClicks, error)
	Series(ctx context.Context, hash string) (*model.ClickSeries, error)
}

// Discoverer registers new links for a domain.
type Discoverer interface {
	DiscoverDomain(ctx context.Context, domain string) (service.DiscoveryReport, error)
}

// CycleRunner runs one refresh cycle.
type CycleRunner interface {
	UpdateClicks(ctx context.Context) (service.CycleReport, error)
}

// ReportDeps groups dependencies required by the report API.
type ReportDeps struct {
	Logger     *zap.Logger
	Reports    Reporter
	Discoverer Discoverer
	Cycles     CycleRunner
	Events     repository.RefreshEventRepository
	// Ping checks the backing store for /health. Optional.
	Ping func(ctx context.Context) error
	Now  func() time.Time
}

// ReportHandler implements the reporting API.
type ReportHandler struct {
	logger     *zap.Logger
	reports    Reporter
	discoverer Discoverer
	cycles     CycleRunner
	events     repository.RefreshEventRepository
	ping       func(ctx context.Context) error
	now        func() time.Time

	cycleRunning atomic.Bool
	background   context.Context
}

// NewReportHandler creates a report handler. Background cycles started by
// POST /api/refresh run under ctx.
func NewReportHandler(ctx context.Context, deps ReportDeps) *ReportHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ReportHandler{
		logger:     logger,
		reports:    deps.Reports,
		discoverer: deps.Discoverer,
		cycles:     deps.Cycles,
		events:     deps.Events,
		ping:       deps.Ping,
		now:        now,
		background: ctx,
	}
}

// Register wires the report routes onto the provided router.
func (h *ReportHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)

	api := router.Group("/api")
	{
		domains := api.Group("/domains")
		{
			domains.Get("/", h.ListDomains)
			domains.Get("/:domain/links", h.ListLinks)
			domains.Get("/:domain/clicks", h.DomainClicks)
			domains.Post("/:domain/discover", h.Discover)
		}
		api.Get("/series/:hash", h.GetSeries)
		api.Get("/series/:hash/events", h.ListEvents)
		api.Post("/refresh", h.Refresh)
	}
}

// Health handles GET /health
func (h *ReportHandler) Health(c *fiber.Ctx) error {
	if h.ping != nil {
		if err := h.ping(c.UserContext()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// ListDomains handles GET /api/domains
func (h *ReportHandler) ListDomains(c *fiber.Ctx) error {
	domains, err := h.reports.Domains(c.UserContext())
	if err != nil {
		h.logger.Error("failed to list domains", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list domains",
		})
	}
	if domains == nil {
		domains = []string{}
	}
	return c.JSON(fiber.Map{
		"domains": domains,
		"count":   len(domains),
	})
}

// ListLinks handles GET /api/domains/:domain/links
func (h *ReportHandler) ListLinks(c *fiber.Ctx) error {
	domain := c.Params("domain")

	rows, err := h.reports.LinkReport(c.UserContext(), domain)
	if err != nil {
		h.logger.Error("failed to build link report", zap.String("domain", domain), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to build link report",
		})
	}

	if c.Query("format") == "csv" {
		var buf bytes.Buffer
		if err := export.WriteLinks(&buf, rows); err != nil {
			return err
		}
		return sendCSV(c, buf.Bytes())
	}

	return c.JSON(fiber.Map{
		"domain": domain,
		"links":  rows,
		"count":  len(rows),
	})
}

// DomainClicks handles GET /api/domains/:domain/clicks?from=&to=&format=
func (h *ReportHandler) DomainClicks(c *fiber.Ctx) error {
	domain := c.Params("domain")

	to := h.now().UTC()
	if raw := c.Query("to"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "to must be YYYY-MM-DD or RFC3339",
			})
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -defaultClicksDays)
	if raw := c.Query("from"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "from must be YYYY-MM-DD or RFC3339",
			})
		}
		from = parsed
	}
	if !from.Before(to) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "from must be before to",
		})
	}

	clicks, err := h.reports.DomainDailyClicks(c.UserContext(), domain, from, to)
	if err != nil {
		h.logger.Error("failed to sum domain clicks", zap.String("domain", domain), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to sum domain clicks",
		})
	}

	if c.Query("format") == "csv" {
		var buf bytes.Buffer
		if err := export.WriteDaily(&buf, clicks.Days); err != nil {
			return err
		}
		return sendCSV(c, buf.Bytes())
	}
	return c.JSON(clicks)
}

// GetSeries handles GET /api/series/:hash
func (h *ReportHandler) GetSeries(c *fiber.Ctx) error {
	hash := c.Params("hash")

	series, err := h.reports.Series(c.UserContext(), hash)
	if err != nil {
		if errors.Is(err, repository.ErrSeriesNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "series not found",
			})
		}
		h.logger.Error("failed to load series", zap.String("hash", hash), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load series",
		})
	}

	return c.JSON(fiber.Map{
		"hash":           series.Hash,
		"samples":        series.Samples,
		"total_clicks":   series.TotalClicks(),
		"last_sample_at": series.LastSampleAt,
		"last_refreshed": series.LastRefreshed,
	})
}

// ListEvents handles GET /api/series/:hash/events
func (h *ReportHandler) ListEvents(c *fiber.Ctx) error {
	if h.events == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "refresh events are not recorded",
		})
	}

	hash := c.Params("hash")
	events, err := h.events.ListByHash(c.UserContext(), hash, eventsLimit)
	if err != nil {
		h.logger.Error("failed to list refresh events", zap.String("hash", hash), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list refresh events",
		})
	}
	return c.JSON(fiber.Map{
		"hash":   hash,
		"events": events,
	})
}

// Discover handles POST /api/domains/:domain/discover
func (h *ReportHandler) Discover(c *fiber.Ctx) error {
	if h.discoverer == nil {
		return apiUnavailable(c)
	}
	domain := c.Params("domain")

	report, err := h.discoverer.DiscoverDomain(c.UserContext(), domain)
	if err != nil {
		h.logger.Error("failed to discover domain", zap.String("domain", domain), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to discover domain",
		})
	}
	return c.JSON(report)
}

// Refresh handles POST /api/refresh. The cycle runs in the background.
func (h *ReportHandler) Refresh(c *fiber.Ctx) error {
	if h.cycles == nil {
		return apiUnavailable(c)
	}
	if !h.cycleRunning.CompareAndSwap(false, true) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a refresh cycle is already running",
		})
	}

	go func() {
		defer h.cycleRunning.Store(false)
		report, err := h.cycles.UpdateClicks(h.background)
		if err != nil {
			h.logger.Error("background refresh cycle failed", zap.Error(err))
			return
		}
		h.logger.Info("background refresh cycle done",
			zap.Int("due", report.Due),
			zap.Int("refreshed", report.Refreshed),
			zap.Int("abandoned", report.Abandoned),
		)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "started",
	})
}

func apiUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "bitly access is not configured",
	})
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func sendCSV(c *fiber.Ctx, body []byte) error {
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(body)
}
