// Package recorder graba los midpoints de cada sesión en CSV para poder
// reproducirlos después en el backtest.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/adapters/history"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/metrics"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const (
	defaultInterval   = 500 * time.Millisecond
	defaultGrace      = 60 * time.Second
	defaultRetryDelay = 30 * time.Second
)

// Config controla el ritmo de grabación.
type Config struct {
	Dir      string
	Interval time.Duration
	// Grace extiende la grabación más allá del fin de la sesión.
	Grace      time.Duration
	RetryDelay time.Duration
}

// Recorder hace polling de /midpoint para el par activo y escribe
// <dir>/<slug>_polling.csv, pasando a la siguiente sesión cuando termina.
type Recorder struct {
	sessions ports.SessionProvider
	mids     ports.MidpointProvider
	cfg      Config
	now      func() time.Time
}

// New crea un recorder.
func New(sessions ports.SessionProvider, mids ports.MidpointProvider, cfg Config) *Recorder {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Recorder{sessions: sessions, mids: mids, cfg: cfg, now: time.Now}
}

// Run graba sesión tras sesión hasta que ctx termine.
func (r *Recorder) Run(ctx context.Context) error {
	var last string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := r.sessions.ActiveSession(ctx, r.now())
		if err != nil || s.Slug == last {
			if err != nil && ctx.Err() == nil {
				slog.Warn("recorder: no active session", "err", err, "retry_in", r.cfg.RetryDelay)
			}
			if !sleep(ctx, r.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		path, rows, err := r.Record(ctx, s)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("recorder: session failed", "slug", s.Slug, "err", err)
		}
		if rows > 0 {
			slog.Info("recorder: session saved", "slug", s.Slug, "rows", rows, "file", path)
		}
		last = s.Slug
	}
}

// Record graba una sesión hasta End+Grace. Devuelve la ruta y las filas escritas.
func (r *Recorder) Record(ctx context.Context, s domain.Session) (string, int, error) {
	path := filepath.Join(r.cfg.Dir, s.Slug+"_polling.csv")
	w, err := history.Create(path)
	if err != nil {
		return path, 0, fmt.Errorf("recorder.Record: %w", err)
	}
	defer w.Close()

	slog.Info("recorder: monitoring",
		"slug", s.Slug,
		"question", domain.TruncateQuestion(s.Question, s.Slug, 60),
		"file", path,
	)

	deadline := s.End.Add(r.cfg.Grace)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var prev domain.PriceRow
	for r.now().Before(deadline) {
		row, err := r.poll(ctx, s)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return path, w.Rows(), ctx.Err()
			}
			slog.Debug("recorder: midpoint failed", "slug", s.Slug, "err", err)
		default:
			if err := w.Append(row); err != nil {
				return path, w.Rows(), fmt.Errorf("recorder.Record: %w", err)
			}
			metrics.QuotesTotal.WithLabelValues("record").Inc()
			if changed(prev, row) {
				slog.Debug("recorder: tick",
					"yes", fmt.Sprintf("%.5f", row.PriceYes),
					"no", fmt.Sprintf("%.5f", row.PriceNo),
					"sum", fmt.Sprintf("%.5f", row.PriceYes+row.PriceNo),
				)
				prev = row
			}
		}

		select {
		case <-ctx.Done():
			return path, w.Rows(), ctx.Err()
		case <-ticker.C:
		}
	}
	return path, w.Rows(), nil
}

func (r *Recorder) poll(ctx context.Context, s domain.Session) (domain.PriceRow, error) {
	yes, err := r.mids.Midpoint(ctx, s.YesID)
	if err != nil {
		return domain.PriceRow{}, fmt.Errorf("yes: %w", err)
	}
	no, err := r.mids.Midpoint(ctx, s.NoID)
	if err != nil {
		return domain.PriceRow{}, fmt.Errorf("no: %w", err)
	}
	return domain.PriceRow{Timestamp: r.now().UTC(), PriceYes: yes, PriceNo: no}, nil
}

func changed(prev, cur domain.PriceRow) bool {
	return prev.Timestamp.IsZero() ||
		math.Abs(cur.PriceYes-prev.PriceYes) > 1e-6 ||
		math.Abs(cur.PriceNo-prev.PriceNo) > 1e-6
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
