// Package export writes click reports as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/service"
)

// DomainTotal is one row of the summary export.
type DomainTotal struct {
	Domain string
	Total  int64
}

// WriteSummary writes "domain,total" rows without a header.
func WriteSummary(w io.Writer, totals []DomainTotal) error {
	cw := csv.NewWriter(w)
	for _, total := range totals {
		if err := cw.Write([]string{total.Domain, strconv.FormatInt(total.Total, 10)}); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	return flush(cw)
}

// WriteDaily writes a "date,clicks" table with one row per day.
func WriteDaily(w io.Writer, days []service.DailyClicks) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "clicks"}); err != nil {
		return fmt.Errorf("write daily header: %w", err)
	}
	for _, day := range days {
		row := []string{service.FormatDay(day.Day), strconv.FormatInt(day.Clicks, 10)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write daily row: %w", err)
		}
	}
	return flush(cw)
}

// WriteLinks writes the per-link report with a header row.
func WriteLinks(w io.Writer, rows []service.LinkRow) error {
	cw := csv.NewWriter(w)
	header := []string{"short_link", "title", "target_url", "total_clicks", "last_sample_at", "last_refreshed", "active"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write links header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ShortLink,
			row.Title,
			row.TargetURL,
			strconv.FormatInt(row.TotalClicks, 10),
			formatTime(row.LastSampleAt),
			formatTime(row.LastRefreshed),
			strconv.FormatBool(row.Active),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write links row: %w", err)
		}
	}
	return flush(cw)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func flush(cw *csv.Writer) error {
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
