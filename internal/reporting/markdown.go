package reporting

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RenderMarkdown renders the report as a markdown document.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Redemption & Capacity Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	renderCoverage(&sb, r)
	renderTotals(&sb, r)
	renderBranches(&sb, r)
	renderActive(&sb, r)

	return sb.String()
}

func renderCoverage(sb *strings.Builder, r *Report) {
	sb.WriteString("## Coverage\n\n")
	sb.WriteString("| Table | From | To |\n")
	sb.WriteString("|-------|------|----|\n")
	sb.WriteString(fmt.Sprintf("| Redemptions | %s | %s |\n", formatTime(r.FirstRedemption), formatTime(r.LastRedemption)))
	sb.WriteString(fmt.Sprintf("| Branch states | %s | %s |\n", formatTime(r.FirstBucket), formatTime(r.LastBucket)))
	sb.WriteString("\n")
}

func renderTotals(sb *strings.Builder, r *Report) {
	t := r.Totals
	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Redemptions | %d |\n", t.Redemptions))
	sb.WriteString(fmt.Sprintf("| Redemptions with reserve | %d |\n", t.RedemptionsReserved))
	sb.WriteString(fmt.Sprintf("| Redemptions with undefined metrics | %d |\n", t.UndefinedRedemptions))
	sb.WriteString(fmt.Sprintf("| Branch states | %d |\n", t.BranchStates))
	sb.WriteString(fmt.Sprintf("| Active trove rows | %d |\n", t.ActiveRows))
	sb.WriteString(fmt.Sprintf("| Active rows with undefined closeability | %d |\n", t.UndefinedActiveRows))
	sb.WriteString(fmt.Sprintf("| Threshold rows | %d |\n", t.ThresholdRows))
	sb.WriteString("\n")
}

func renderBranches(sb *strings.Builder, r *Report) {
	sb.WriteString("## Redemptions by Branch\n\n")
	if r.Totals.Redemptions == 0 {
		sb.WriteString("No redemptions available.\n\n")
		return
	}

	sb.WriteString("| Branch | MCR | CCR | Redemptions | With Reserve | Reserve Coll | Latest | TCR | MCR Debt Cap | MCR Debt Cap (reserved) |\n")
	sb.WriteString("|--------|-----|-----|-------------|--------------|--------------|--------|-----|--------------|-------------------------|\n")
	for _, b := range r.Branches {
		if b.Redemptions == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %s | %s | %s | %s | %s |\n",
			b.Branch,
			formatFloat(b.MCR),
			formatFloat(b.CCR),
			b.Redemptions,
			b.RedemptionsReserved,
			formatFloat(b.ReserveColl),
			formatTime(b.LatestRedemption),
			formatOptional(b.LatestTCR),
			formatOptional(b.LatestMCRDebtCap),
			formatOptional(b.LatestMCRDebtCapReserved),
		))
	}
	sb.WriteString("\n")
}

func renderActive(sb *strings.Builder, r *Report) {
	sb.WriteString("## Active Troves\n\n")
	if r.Totals.BranchStates == 0 {
		sb.WriteString("No branch states available.\n\n")
		return
	}

	sb.WriteString("| Branch | Bucket | TCR | Active | Closeable | Undefined | Thresholds |\n")
	sb.WriteString("|--------|--------|-----|--------|-----------|-----------|------------|\n")
	for _, b := range r.Branches {
		if b.LatestBucket.IsZero() {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %d | %d |\n",
			b.Branch,
			formatTime(b.LatestBucket),
			formatOptional(b.LatestBucketTCR),
			b.ActiveTroves,
			b.CloseableTroves,
			b.UndefinedActive,
			b.ThresholdRows,
		))
	}
	sb.WriteString("\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return formatFloat(*v)
}
