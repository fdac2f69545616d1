package history

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Writer añade filas a un CSV de precios. Cada Append hace flush: si el
// proceso muere, lo escrito hasta ese momento queda en disco.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	rows int
}

// Create crea (o trunca) path, con sus directorios, y escribe la cabecera.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history.Create: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("history.Create: %w", err)
	}
	w := &Writer{path: path, f: f, w: csv.NewWriter(f)}
	if err := w.write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("history.Create: header: %w", err)
	}
	return w, nil
}

// Append escribe una fila: timestamp, price_yes, price_no, sum_prices.
func (w *Writer) Append(row domain.PriceRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write([]string{
		row.Timestamp.UTC().Format(time.RFC3339Nano),
		formatPrice(row.PriceYes),
		formatPrice(row.PriceNo),
		formatPrice(domain.Round(row.PriceYes+row.PriceNo, 6)),
	}); err != nil {
		return fmt.Errorf("history.Append %s: %w", filepath.Base(w.path), err)
	}
	w.rows++
	return nil
}

// Rows devuelve cuántas filas de datos se han escrito.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Path devuelve la ruta del archivo.
func (w *Writer) Path() string { return w.path }

// Close cierra el archivo.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func (w *Writer) write(rec []string) error {
	if err := w.w.Write(rec); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

// WriteFile escribe una serie completa a path.
func WriteFile(path string, rows []domain.PriceRow) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Append(r); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
