// Package history lee y escribe las series de precios YES/NO en CSV.
//
// Formato: cabecera con timestamp, price_yes, price_no y opcionalmente
// sum_prices. Es el mismo formato que produce el recorder y la descarga,
// así que el backtest consume ambos directamente.
package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// DefaultMinRows es el mínimo de filas para que un mercado entre al backtest.
const DefaultMinRows = 50

var header = []string{"timestamp", "price_yes", "price_no", "sum_prices"}

// CSVStore implementa ports.HistoryProvider sobre un directorio de CSVs.
type CSVStore struct {
	dir     string
	minRows int
}

// NewCSVStore crea un loader para dir. minRows <= 0 usa DefaultMinRows.
func NewCSVStore(dir string, minRows int) *CSVStore {
	if minRows <= 0 {
		minRows = DefaultMinRows
	}
	return &CSVStore{dir: dir, minRows: minRows}
}

// LoadMarkets lee todos los .csv del directorio en orden alfabético.
// Los archivos ilegibles o con menos de minRows filas se saltan con un log.
func (s *CSVStore) LoadMarkets(ctx context.Context) ([]domain.HistoricalMarket, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("history.LoadMarkets: %w", err)
	}

	var markets []domain.HistoricalMarket
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}

		rows, err := ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			slog.Warn("history: skipping unreadable file", "file", e.Name(), "err", err)
			continue
		}
		if len(rows) < s.minRows {
			slog.Info("history: skipping short series", "file", e.Name(), "rows", len(rows), "min", s.minRows)
			continue
		}

		slog.Debug("history: loaded", "file", e.Name(), "rows", len(rows))
		markets = append(markets, domain.HistoricalMarket{Name: e.Name(), Rows: rows})
	}

	slog.Info("history: markets loaded", "dir", s.dir, "markets", len(markets))
	return markets, nil
}

// ReadFile lee un CSV de precios desde disco.
func ReadFile(path string) ([]domain.PriceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRows(f)
}

// ReadRows parsea un CSV de precios y devuelve las filas ordenadas por tiempo.
// Las columnas se localizan por nombre; las filas sin alguno de los dos precios se descartan.
func ReadRows(r io.Reader) ([]domain.PriceRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	iTs, okTs := cols["timestamp"]
	iYes, okYes := cols["price_yes"]
	iNo, okNo := cols["price_no"]
	if !okTs || !okYes || !okNo {
		return nil, fmt.Errorf("missing columns: need timestamp, price_yes, price_no (got %v)", head)
	}

	var rows []domain.PriceRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) <= max(iTs, iYes, iNo) {
			continue
		}

		ts, err := ParseTimestamp(rec[iTs])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		yes, okY := parsePrice(rec[iYes])
		no, okN := parsePrice(rec[iNo])
		if !okY || !okN {
			continue
		}
		rows = append(rows, domain.PriceRow{Timestamp: ts, PriceYes: yes, PriceNo: no})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, nil
}

func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// ParseTimestamp acepta ISO-8601 (con o sin zona, 'T' o espacio) y epoch en segundos.
// Las horas sin zona se interpretan como UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
