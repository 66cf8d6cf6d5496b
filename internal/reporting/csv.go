package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/redemption"
)

// Undefined metrics render as an empty cell.

var redemptionHeader = []string{
	"id", "timestamp", "branch", "tx_hash", "price",
	"coll_decrease", "debt_decrease", "attempted_debt", "redemption_price",
	"entire_coll", "entire_debt", "entire_coll_0", "entire_debt_0",
	"tcr", "tcr_0", "tcr_delta", "tcr_delta_pct",
	"mcr_debt_cap", "mcr_debt_cap_0", "mcr_debt_cap_delta", "mcr_debt_cap_delta_pct",
	"mcr_coll_cap", "mcr_coll_cap_0", "mcr_coll_cap_delta",
	"reserve_coll", "mcr_debt_cap_reserved", "mcr_coll_cap_reserved",
}

var branchStateHeader = []string{
	"branch", "bucket", "entire_coll", "entire_debt", "price", "tcr",
}

var activeTroveHeader = []string{
	"branch", "trove_id", "bucket", "filled", "coll", "debt",
	"entire_coll", "entire_debt", "price", "tcr",
	"icr", "tcr_if_closed", "tcr_delta", "closeable", "ccr_buffer", "tcr_threshold",
	"mcr_debt_cap", "mcr_coll_cap", "mcr_debt_cap_reserve", "mcr_coll_cap_reserve",
}

var reserveHeader = []string{"branch", "tx_hash", "troves", "reserve_coll"}

// WriteRedemptionsCSV writes one row per redemption record.
func WriteRedemptionsCSV(w io.Writer, records []*domain.RedemptionRecord) error {
	return writeCSV(w, redemptionHeader, len(records), func(i int) []string {
		r := records[i]
		return []string{
			r.ID,
			formatCSVTime(r.Timestamp),
			r.Branch.Name,
			r.TxHash,
			formatCSVFloat(r.Price),
			formatCSVFloat(r.CollDecrease),
			formatCSVFloat(r.DebtDecrease),
			formatCSVFloat(r.AttemptedDebt),
			formatCSVFloat(r.RedemptionPrice),
			formatCSVFloat(r.EntireColl),
			formatCSVFloat(r.EntireDebt),
			formatCSVFloat(r.EntireColl0),
			formatCSVFloat(r.EntireDebt0),
			formatCSVOptional(r.TCR),
			formatCSVOptional(r.TCR0),
			formatCSVOptional(r.TCRDelta),
			formatCSVOptional(r.TCRDeltaPct),
			formatCSVOptional(r.MCRDebtCap),
			formatCSVOptional(r.MCRDebtCap0),
			formatCSVOptional(r.MCRDebtCapDelta),
			formatCSVOptional(r.MCRDebtCapDeltaPct),
			formatCSVOptional(r.MCRCollCap),
			formatCSVOptional(r.MCRCollCap0),
			formatCSVOptional(r.MCRCollCapDelta),
			formatCSVFloat(r.ReserveColl),
			formatCSVOptional(r.MCRDebtCapReserved),
			formatCSVOptional(r.MCRCollCapReserved),
		}
	})
}

// WriteBranchStatesCSV writes one row per branch and bucket.
func WriteBranchStatesCSV(w io.Writer, states []*domain.BranchDailyState) error {
	return writeCSV(w, branchStateHeader, len(states), func(i int) []string {
		s := states[i]
		return []string{
			s.Branch.Name,
			formatCSVTime(s.Bucket),
			formatCSVFloat(s.EntireColl),
			formatCSVFloat(s.EntireDebt),
			formatCSVFloat(s.Price),
			formatCSVOptional(s.TCR),
		}
	})
}

// WriteActiveTrovesCSV writes one row per live trove and bucket.
func WriteActiveTrovesCSV(w io.Writer, rows []*domain.ActiveTroveRecord) error {
	return writeCSV(w, activeTroveHeader, len(rows), func(i int) []string {
		r := rows[i]
		closeable := ""
		if r.Closeable != nil {
			closeable = strconv.FormatBool(*r.Closeable)
		}
		return []string{
			r.Branch.Name,
			r.TroveID,
			formatCSVTime(r.Bucket),
			strconv.FormatBool(r.Filled),
			formatCSVFloat(r.Coll),
			formatCSVFloat(r.Debt),
			formatCSVFloat(r.EntireColl),
			formatCSVFloat(r.EntireDebt),
			formatCSVFloat(r.Price),
			formatCSVOptional(r.TCR),
			formatCSVOptional(r.ICR),
			formatCSVOptional(r.TCRIfClosed),
			formatCSVOptional(r.TCRDelta),
			closeable,
			formatCSVOptional(r.CCRBuffer),
			formatCSVOptional(r.TCRThreshold),
			formatCSVOptional(r.MCRDebtCap),
			formatCSVOptional(r.MCRCollCap),
			formatCSVOptional(r.MCRDebtCapReserve),
			formatCSVOptional(r.MCRCollCapReserve),
		}
	})
}

// WriteReservesCSV writes one row per redemption transaction that emptied troves.
func WriteReservesCSV(w io.Writer, reserves []redemption.Reserve) error {
	return writeCSV(w, reserveHeader, len(reserves), func(i int) []string {
		r := reserves[i]
		return []string{
			r.Key.Branch,
			r.Key.TxHash,
			strconv.Itoa(r.Troves),
			formatCSVFloat(r.ReserveColl),
		}
	})
}

func writeCSV(w io.Writer, header []string, n int, row func(int) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCSVTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatCSVFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatCSVOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatCSVFloat(*v)
}
