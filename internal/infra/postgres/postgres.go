// Package postgres wires the Postgres store: a gorm handle for click series
// and links, plus a small pgx pool that only answers readiness checks.
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/adaptivelab/bitly-historics/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	probeTimeout  = 3 * time.Second
	probeMaxConns = 2
)

// Probe checks that Postgres is reachable. It owns its own pool so health
// checks never queue behind refresh workers holding series rows.
type Probe struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// ProbeConfig derives the probe pool settings from cfg. The pool stays tiny
// whatever max_conns is, and every dial and ping is bounded by probeTimeout.
func ProbeConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	poolCfg.MaxConns = probeMaxConns
	poolCfg.MinConns = 0
	poolCfg.ConnConfig.ConnectTimeout = probeTimeout
	if d, ok := parseDuration(cfg.HealthCheckPeriod); ok {
		poolCfg.HealthCheckPeriod = d
	}
	if d, ok := parseDuration(cfg.MaxConnIdleTime); ok {
		poolCfg.MaxConnIdleTime = d
	}
	return poolCfg, nil
}

// NewProbe opens the probe pool and pings once before returning.
func NewProbe(ctx context.Context, cfg config.PostgresConfig) (*Probe, error) {
	poolCfg, err := ProbeConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	probe := &Probe{pool: pool, timeout: probeTimeout}
	if err := probe.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return probe, nil
}

// Ping round-trips to the server, giving up after the probe timeout.
func (p *Probe) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (p *Probe) Close() {
	p.pool.Close()
}

// ConnString renders cfg as a postgres:// URL, filling in local defaults.
func ConnString(cfg config.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	database := cfg.Database
	if database == "" {
		database = "bitly_historics"
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	switch {
	case cfg.Password != "":
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	return u.String()
}

func parseDuration(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
