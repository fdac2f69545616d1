package notify

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// rankSize es cuántos mercados se muestran en el top/bottom del backtest.
const rankSize = 5

// Console implementa ports.Reporter.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	trades bool
}

// NewConsole crea un reporter que escribe a stdout. trades=true imprime
// también la tabla de trades de cada sesión.
func NewConsole(trades bool) *Console {
	return &Console{out: os.Stdout, trades: trades}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, trades bool) *Console {
	return &Console{out: w, trades: trades}
}

// SessionClosed imprime el resumen del ledger al cerrar una sesión.
func (c *Console) SessionClosed(res domain.SessionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, l := res.Session, res.Ledger
	status := "OPEN"
	if l.Locked {
		status = "LOCKED"
	}

	fmt.Fprintf(c.out, "\n── SESSION %s ── %s\n", s.ID, domain.TruncateQuestion(s.Question, s.Slug, 60))
	fmt.Fprintf(c.out, "  Window:     %s → %s (%d ticks)\n",
		s.Start.Format("15:04:05"), s.End.Format("15:04:05"), res.Ticks)
	fmt.Fprintf(c.out, "  YES:        %.2f @ %.4f ($%.2f)\n", l.QtyYes, l.AvgYes, l.CostYes)
	fmt.Fprintf(c.out, "  NO:         %.2f @ %.4f ($%.2f)\n", l.QtyNo, l.AvgNo, l.CostNo)
	fmt.Fprintf(c.out, "  Pair cost:  %.4f\n", l.PairCost)
	fmt.Fprintf(c.out, "  Locked P&L: $%.4f\n", l.GuaranteedProfit)
	fmt.Fprintf(c.out, "  Capital:    $%.2f / $%.2f\n", l.Capital, l.InitialCapital)
	fmt.Fprintf(c.out, "  Status:     %s (%d trades)\n", status, l.Trades)

	if c.trades && len(res.Trades) > 0 {
		c.printTrades(res.Trades)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printTrades(trades []domain.TradeRecord) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Tick", "Time", "Action", "Price", "Qty", "PairCost", "GP", "Capital")
	for _, tr := range trades {
		tr = tr.Rounded()
		table.Append(
			fmt.Sprintf("%d", tr.Tick),
			tr.Timestamp.Format("15:04:05"),
			string(tr.Action),
			fmt.Sprintf("%.4f", tr.Price),
			fmt.Sprintf("%.2f", tr.Qty),
			fmt.Sprintf("%.4f", tr.PairCostAfter),
			fmt.Sprintf("$%.4f", tr.GuaranteedProfit),
			fmt.Sprintf("$%.2f", tr.CapitalLeft),
		)
	}
	table.Render()
}

// Backtest imprime el resumen compuesto y los mejores/peores mercados.
func (c *Console) Backtest(sum domain.BacktestSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sum.Markets == 0 {
		fmt.Fprintln(c.out, "\n  No markets to backtest.")
		return
	}

	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║  BACKTEST — compounding pair hedge                              ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════════╝\n\n")

	fmt.Fprintf(c.out, "  Run:             %s (%s)\n", sum.RunID, sum.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Markets:         %d\n", sum.Markets)
	fmt.Fprintf(c.out, "  Initial capital: $%.2f\n", sum.InitialCapital)
	fmt.Fprintf(c.out, "  Final capital:   $%.2f\n", sum.FinalCapital)
	fmt.Fprintf(c.out, "  Total profit:    $%.2f\n", sum.TotalProfit)
	fmt.Fprintf(c.out, "  ROI:             %.2f%%\n", sum.ROIPct)
	fmt.Fprintf(c.out, "  Win rate:        %.1f%% (%d/%d)\n", sum.WinRatePct, sum.Winners, sum.Markets)
	fmt.Fprintf(c.out, "  Avg trades:      %.1f\n", sum.AvgTrades)

	fmt.Fprintf(c.out, "\n── TOP %d ──\n", rankSize)
	c.printResults(sum.Best(rankSize))
	fmt.Fprintf(c.out, "\n── BOTTOM %d ──\n", rankSize)
	c.printResults(sum.Worst(rankSize))
	fmt.Fprintln(c.out)
}

func (c *Console) printResults(results []domain.MarketResult) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Trades", "Safe", "PairCost", "Winner", "Profit", "ROI", "Capital")
	for _, r := range results {
		table.Append(
			fmt.Sprintf("%d", r.Number),
			truncate(r.Market, 40),
			fmt.Sprintf("%d", r.Trades),
			fmt.Sprintf("%d", r.SafetyTrades),
			fmt.Sprintf("%.4f", r.FinalPairCost),
			string(r.Winner),
			fmt.Sprintf("$%.2f", r.ProfitFinal),
			fmt.Sprintf("%.2f%%", r.ROIPct),
			fmt.Sprintf("$%.2f", r.CapitalAfter),
		)
	}
	table.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
