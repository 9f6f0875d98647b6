package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/adaptivelab/bitly-historics/config"
	"github.com/adaptivelab/bitly-historics/internal/app/bootstrap"
	"github.com/adaptivelab/bitly-historics/internal/app/service"
	"github.com/adaptivelab/bitly-historics/internal/export"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

const usage = `usage: historics <command> [flags]

commands:
  add-domain <domain>...   discover links for one or more domains
  import [-file path]      register short links, one "short_link[,domain]" per line
  update-clicks            refresh the click history of every due link
  list-domains             print the tracked domains
  update-everything        discover new links for all domains, then update clicks
  export-clicks            write click totals as CSV
  export-links             write the per-link report of a domain as CSV
`

var errUsage = errors.New("invalid usage")

type command struct {
	needsAPI bool
	run      func(ctx context.Context, app *bootstrap.App, args []string, stdin io.Reader, stdout io.Writer) error
}

var commands = map[string]command{
	"add-domain":        {needsAPI: true, run: addDomain},
	"import":            {needsAPI: true, run: importLinks},
	"update-clicks":     {needsAPI: true, run: updateClicks},
	"list-domains":      {run: listDomains},
	"update-everything": {needsAPI: true, run: updateEverything},
	"export-clicks":     {run: exportClicks},
	"export-links":      {run: exportLinks},
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{
		Name:       "historics-cli",
		RequireAPI: cmd.needsAPI,
		// Nothing scrapes a one-shot command.
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}
	defer app.Close()

	return cmd.run(ctx, app, args[1:], stdin, stdout)
}

func addDomain(ctx context.Context, app *bootstrap.App, args []string, _ io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("add-domain", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: add-domain needs at least one domain", errUsage)
	}

	for _, domain := range fs.Args() {
		report, err := app.Discovery.DiscoverDomain(ctx, domain)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: tracked %d, found %d, %d new\n", report.Domain, report.Tracked, report.Found, report.Added)
	}
	return nil
}

func importLinks(ctx context.Context, app *bootstrap.App, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "-", `file of short links, "-" for stdin`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open %s: %w", *file, err)
		}
		defer f.Close()
		in = f
	}

	report, err := app.Discovery.ImportLinks(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "read %d, added %d, already tracked %d, failed %d\n",
		report.Read, report.Added, report.Skipped, report.Failed)
	return nil
}

func updateClicks(ctx context.Context, app *bootstrap.App, _ []string, _ io.Reader, stdout io.Writer) error {
	report, err := app.Updater.UpdateClicks(ctx)
	if err != nil {
		return err
	}
	printCycle(stdout, report)
	return nil
}

func updateEverything(ctx context.Context, app *bootstrap.App, _ []string, _ io.Reader, stdout io.Writer) error {
	reports, cycle, err := app.Updater.UpdateEverything(ctx)
	for _, report := range reports {
		if report.Err != nil {
			fmt.Fprintf(stdout, "%s: failed: %v\n", report.Domain, report.Err)
			continue
		}
		fmt.Fprintf(stdout, "%s: %d new\n", report.Domain, report.Added)
	}
	if err != nil {
		return err
	}
	printCycle(stdout, cycle)
	return nil
}

func listDomains(ctx context.Context, app *bootstrap.App, _ []string, _ io.Reader, stdout io.Writer) error {
	domains, err := app.Reports.Domains(ctx)
	if err != nil {
		return err
	}
	for _, domain := range domains {
		fmt.Fprintln(stdout, domain)
	}
	return nil
}

func exportClicks(ctx context.Context, app *bootstrap.App, args []string, _ io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("export-clicks", flag.ContinueOnError)
	fromFlag := fs.String("from", "", "window start, YYYY-MM-DD (exclusive)")
	toFlag := fs.String("to", "", "window end, YYYY-MM-DD (exclusive)")
	domainsFlag := fs.String("domains", "", "comma separated domains, default all tracked")
	summaryPath := fs.String("summary-csv", "", `write "domain,total" rows here, "-" for stdout`)
	dailyPath := fs.String("clicks-daily-csv", "", "write per-day totals across the domains here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *summaryPath == "" && *dailyPath == "" {
		return fmt.Errorf("%w: export-clicks needs -summary-csv or -clicks-daily-csv", errUsage)
	}

	from, to, err := parseWindow(*fromFlag, *toFlag)
	if err != nil {
		return err
	}

	domains := splitList(*domainsFlag)
	if len(domains) == 0 {
		if domains, err = app.Reports.Domains(ctx); err != nil {
			return err
		}
	}

	totals := make([]export.DomainTotal, 0, len(domains))
	perDay := make(map[time.Time]int64)
	for _, domain := range domains {
		clicks, err := app.Reports.DomainDailyClicks(ctx, domain, from, to)
		if err != nil {
			return err
		}
		totals = append(totals, export.DomainTotal{Domain: domain, Total: clicks.Total})
		for _, day := range clicks.Days {
			perDay[day.Day] += day.Clicks
		}
	}

	if *summaryPath != "" {
		if err := writeTo(*summaryPath, stdout, func(w io.Writer) error {
			return export.WriteSummary(w, totals)
		}); err != nil {
			return err
		}
	}
	if *dailyPath != "" {
		days := make([]service.DailyClicks, 0, len(perDay))
		for day, clicks := range perDay {
			days = append(days, service.DailyClicks{Day: day, Clicks: clicks})
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })
		if err := writeTo(*dailyPath, stdout, func(w io.Writer) error {
			return export.WriteDaily(w, days)
		}); err != nil {
			return err
		}
	}
	return nil
}

func exportLinks(ctx context.Context, app *bootstrap.App, args []string, _ io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("export-links", flag.ContinueOnError)
	domain := fs.String("domain", "", "domain to report on")
	out := fs.String("out", "-", `destination file, "-" for stdout`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *domain == "" {
		return fmt.Errorf("%w: export-links needs -domain", errUsage)
	}

	rows, err := app.Reports.LinkReport(ctx, *domain)
	if err != nil {
		return err
	}
	return writeTo(*out, stdout, func(w io.Writer) error {
		return export.WriteLinks(w, rows)
	})
}

func parseWindow(fromRaw, toRaw string) (time.Time, time.Time, error) {
	if fromRaw == "" || toRaw == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -from and -to are required", errUsage)
	}
	from, err := time.Parse(dateLayout, fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse -from: %w", err)
	}
	to, err := time.Parse(dateLayout, toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse -to: %w", err)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -from must be before -to", errUsage)
	}
	return from, to, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func writeTo(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printCycle(stdout io.Writer, report service.CycleReport) {
	fmt.Fprintf(stdout, "due %d, refreshed %d, abandoned %d in %s\n",
		report.Due, report.Refreshed, report.Abandoned, report.Duration.Round(time.Second))
}
