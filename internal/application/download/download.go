// Package download baja el histórico de precios de mercados cerrados y lo
// guarda en el formato CSV que consume el backtest.
package download

// El trabajo por mercado (dos /prices-history + merge + escritura) corre en un
// worker pool; el rate limiter del cliente marca el ritmo real de requests.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alejandrodnm/polyhedge/internal/adapters/history"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// Config controla qué mercados se descargan y cuántos.
type Config struct {
	Dir            string
	TagID          int
	MaxPages       int
	QuestionFilter string
	MinRows        int
	MaxMarkets     int
	Workers        int
	Interval       string
	Fidelity       int
}

// DefaultConfig devuelve los valores usados para los mercados BTC de 15 minutos.
func DefaultConfig() Config {
	return Config{
		Dir:            "data",
		TagID:          235,
		MaxPages:       20,
		QuestionFilter: "bitcoin up or down",
		MinRows:        20,
		MaxMarkets:     40,
		Workers:        4,
		Interval:       "1m",
		Fidelity:       10,
	}
}

// Report resume una descarga.
type Report struct {
	Listed  int
	Matched int
	Saved   int
	Skipped int
	Files   []string
}

// Downloader lista mercados cerrados y guarda sus series YES/NO.
type Downloader struct {
	lister ports.MarketLister
	prices ports.PriceHistoryProvider
	cfg    Config
}

// New crea un downloader. Los campos vacíos de cfg toman DefaultConfig.
func New(lister ports.MarketLister, prices ports.PriceHistoryProvider, cfg Config) *Downloader {
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.TagID <= 0 {
		cfg.TagID = def.TagID
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = def.MinRows
	}
	if cfg.MaxMarkets <= 0 {
		cfg.MaxMarkets = def.MaxMarkets
	}
	if cfg.Workers <= 0 {
		cfg.Workers = min(runtime.NumCPU(), def.Workers)
	}
	if cfg.Interval == "" {
		cfg.Interval = def.Interval
	}
	if cfg.Fidelity <= 0 {
		cfg.Fidelity = def.Fidelity
	}
	return &Downloader{lister: lister, prices: prices, cfg: cfg}
}

// Matches indica si la pregunta del mercado pasa el filtro:
// contiene filter (sin distinguir mayúsculas) y es una pregunta.
func Matches(question, filter string) bool {
	return strings.Contains(strings.ToLower(question), strings.ToLower(filter)) &&
		strings.Contains(question, "?")
}

// Run descarga hasta MaxMarkets mercados con al menos MinRows filas combinadas.
func (d *Downloader) Run(ctx context.Context) (Report, error) {
	markets, err := d.lister.ClosedMarkets(ctx, d.cfg.TagID, d.cfg.MaxPages)
	if err != nil {
		return Report{}, fmt.Errorf("download.Run: list markets: %w", err)
	}

	rep := Report{Listed: len(markets)}
	var matched []domain.Market
	for _, m := range markets {
		if Matches(m.Question, d.cfg.QuestionFilter) && m.HasTokens() {
			matched = append(matched, m)
		}
	}
	rep.Matched = len(matched)
	slog.Info("download: markets listed", "listed", rep.Listed, "matched", rep.Matched, "tag_id", d.cfg.TagID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan domain.Market)
	type result struct {
		file string
		err  error
	}
	resultCh := make(chan result, len(matched))

	var saved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range workCh {
				if int(saved.Load()) >= d.cfg.MaxMarkets {
					continue
				}
				file, err := d.fetch(ctx, m)
				if err == nil && int(saved.Add(1)) >= d.cfg.MaxMarkets {
					cancel()
				}
				resultCh <- result{file: file, err: err}
			}
		}()
	}

feed:
	for _, m := range matched {
		select {
		case workCh <- m:
		case <-ctx.Done():
			break feed
		}
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for r := range resultCh {
		if r.err != nil {
			rep.Skipped++
			if !errors.Is(r.err, context.Canceled) {
				slog.Debug("download: market skipped", "err", r.err)
			}
			continue
		}
		rep.Files = append(rep.Files, r.file)
	}
	sort.Strings(rep.Files)
	// una descarga terminada justo al cancelar cuenta como guardada igualmente
	if len(rep.Files) > d.cfg.MaxMarkets {
		rep.Files = rep.Files[:d.cfg.MaxMarkets]
	}
	rep.Saved = len(rep.Files)

	slog.Info("download: complete", "saved", rep.Saved, "skipped", rep.Skipped, "dir", d.cfg.Dir)
	return rep, nil
}

func (d *Downloader) fetch(ctx context.Context, m domain.Market) (string, error) {
	yes, err := d.prices.PriceHistory(ctx, m.YesToken().TokenID, d.cfg.Interval, d.cfg.Fidelity)
	if err != nil {
		return "", fmt.Errorf("%s yes history: %w", m.Slug, err)
	}
	no, err := d.prices.PriceHistory(ctx, m.NoToken().TokenID, d.cfg.Interval, d.cfg.Fidelity)
	if err != nil {
		return "", fmt.Errorf("%s no history: %w", m.Slug, err)
	}

	rows := domain.MergePricePoints(yes, no)
	if len(rows) < d.cfg.MinRows {
		return "", fmt.Errorf("%s: only %d merged rows (min %d)", m.Slug, len(rows), d.cfg.MinRows)
	}

	slug := m.Slug
	if slug == "" {
		slug = strings.ReplaceAll(m.Question, "?", "")
	}
	path := filepath.Join(d.cfg.Dir, slug+"_15min.csv")
	if err := history.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("%s: %w", m.Slug, err)
	}
	slog.Info("download: saved", "slug", slug, "rows", len(rows))
	return path, nil
}
