package app

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"volume-farm/internal/session"
)

type accountResult struct {
	session.Result
	Index int
	Mode  string
}

// printReport 输出各账户的会话汇总。
func printReport(w io.Writer, results []accountResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "没有可汇总的账户")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Account", "Mode", "Deals", "Trades", "Volume", "Reason", "Duration", "Error")

	total := decimal.Zero
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 60)
		}
		table.Append(
			strconv.Itoa(r.Index),
			r.Account,
			r.Mode,
			strconv.Itoa(r.Deals),
			strconv.Itoa(r.Trades),
			r.Volume.StringFixed(2),
			string(r.Reason),
			r.Duration.Round(time.Second).String(),
			errText,
		)
		total = total.Add(r.Volume)
	}

	table.Render()
	fmt.Fprintf(w, "合计成交量: %s\n", total.StringFixed(2))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
