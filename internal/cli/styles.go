package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/monitor"
	"github.com/roach88/triad/internal/saga"
)

var (
	colorGreen  = lipgloss.Color("#5FD787")
	colorYellow = lipgloss.Color("#FFD787")
	colorRed    = lipgloss.Color("#FF8787")
	colorGray   = lipgloss.Color("#888888")

	styleTitle = lipgloss.NewStyle().Bold(true)
	styleMuted = lipgloss.NewStyle().Foreground(colorGray)
	styleGood  = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarn  = lipgloss.NewStyle().Foreground(colorYellow)
	styleBad   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	styleCell  = lipgloss.NewStyle().Width(12)
)

func stateStyle(s model.HealthState) lipgloss.Style {
	switch s {
	case model.Healthy:
		return styleGood
	case model.Degraded:
		return styleWarn
	default:
		return styleBad
	}
}

func mark(ok bool) string {
	if ok {
		return styleGood.Render("✓")
	}
	return styleBad.Render("✗")
}

func renderHealth(r monitor.Report, metrics []monitor.StoreMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styleTitle.Render("Overall:"), stateStyle(r.Status).Render(string(r.Status)))
	for _, st := range r.Stores {
		line := styleCell.Render(st.Store) + stateStyle(st.Status).Inline(true).Width(11).Render(string(st.Status)) +
			styleMuted.Render(st.ResponseTime.Round(time.Millisecond).String())
		if st.Detail != "" {
			line += "  " + styleMuted.Render(st.Detail)
		}
		b.WriteString(line + "\n")
	}
	if len(metrics) > 0 {
		b.WriteString("\n" + styleTitle.Render("Metrics") + "\n")
		for _, m := range metrics {
			fmt.Fprintf(&b, "%s ops=%d errors=%d avg=%s p95=%s\n",
				styleCell.Render(m.Store), m.Operations, m.Errors,
				m.AvgLatency.Round(time.Millisecond), m.P95.Round(time.Millisecond))
		}
	}
	return b.String()
}

func renderPrepared(p *saga.PrepareResult) string {
	var b strings.Builder
	title := "Prepared"
	if p.Replayed {
		title += " (replayed)"
	}
	fmt.Fprintf(&b, "%s operation %s\n", styleGood.Render(title), p.OperationID)
	fmt.Fprintf(&b, "  record:  %s\n", p.RecordID)
	fmt.Fprintf(&b, "  slug:    %s\n", p.Slug)
	for _, ref := range p.MediaRefs {
		fmt.Fprintf(&b, "  media:   %s\n", ref)
	}
	fmt.Fprintf(&b, "  sign as: %s\n", p.UnsignedTx.From)
	fmt.Fprintf(&b, "  digest:  %s\n", p.UnsignedTx.Digest)
	return b.String()
}

func renderCreation(r *model.CreationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styleTitle.Render("Record"), r.RecordID)
	fmt.Fprintf(&b, "  ledger %s  cache %s  media %s\n",
		mark(r.CreatedOn.Ledger), mark(r.CreatedOn.Cache), mark(r.CreatedOn.Media))
	if r.LedgerRef != "" {
		fmt.Fprintf(&b, "  tx:    %s (block %s)\n", r.LedgerRef, r.BlockRef)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  %s %s\n", styleBad.Render("error:"), e)
	}
	return b.String()
}

func renderReport(r *model.ConsistencyReport) string {
	var b strings.Builder
	status := styleGood.Render("consistent")
	if !r.Consistent() {
		status = styleBad.Render("inconsistent")
	}
	fmt.Fprintf(&b, "%s %s: %s\n", styleTitle.Render("Record"), r.RecordID, status)
	fmt.Fprintf(&b, "  ledger %s  cache %s  media %s\n",
		mark(r.PresentInLedger), mark(r.PresentInCache), mark(r.PresentInMedia))
	for _, d := range r.Discrepancies {
		line := "  - " + string(d.Kind)
		if d.Field != "" {
			line += " " + d.Field
		}
		if d.Ledger != "" || d.Cache != "" {
			line += styleMuted.Render(fmt.Sprintf(" ledger=%q cache=%q", d.Ledger, d.Cache))
		}
		if d.Detail != "" {
			line += styleMuted.Render(" " + d.Detail)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func renderRepair(r *model.RepairResult) string {
	var b strings.Builder
	if len(r.Actions) == 0 && len(r.Errors) == 0 && len(r.ManualIntervention) == 0 {
		fmt.Fprintf(&b, "%s %s: nothing to repair\n", styleTitle.Render("Record"), r.RecordID)
		return b.String()
	}
	fmt.Fprintf(&b, "%s %s\n", styleTitle.Render("Record"), r.RecordID)
	for _, a := range r.Actions {
		fmt.Fprintf(&b, "  %s %s %s: %s\n", styleGood.Render("✓"), a.Store, a.Op, a.Detail)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  %s %s\n", styleBad.Render("✗"), e)
	}
	for _, m := range r.ManualIntervention {
		fmt.Fprintf(&b, "  %s %s\n", styleWarn.Render("manual:"), m)
	}
	return b.String()
}

func renderSync(s saga.SyncSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s total=%d synced=%d repaired=%d failed=%d\n",
		styleTitle.Render("Sync"), s.Total, s.Synced, s.Repaired, s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "  %s %s\n", styleBad.Render("✗"), e)
	}
	return b.String()
}

func renderCleanup(s saga.CleanupSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s processed=%d removed=%d attached=%d errored=%d\n",
		styleTitle.Render("Cleanup"), s.Processed, s.Removed, s.Attached, s.Errored)
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "  %s %s\n", styleBad.Render("✗"), e)
	}
	return b.String()
}

func renderSweep(r monitor.SweepReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s resumed=%d expired=%d in %s\n",
		styleTitle.Render("Sweep"), r.Resumed, r.Expired, r.Duration.Round(time.Millisecond))
	b.WriteString(renderSync(r.Sync))
	b.WriteString(renderCleanup(r.Cleanup))
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  %s %s\n", styleBad.Render("✗"), e)
	}
	return b.String()
}

func renderPage(p model.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d of %d (page %d)\n", styleTitle.Render("Records"), len(p.Records), p.Total, p.Page)
	for _, r := range p.Records {
		fmt.Fprintf(&b, "  %s  %s  %s  %s\n", r.ID, r.Fields.StartsAt.Format(time.RFC3339),
			r.Slug, styleMuted.Render(r.Fields.Title))
	}
	return b.String()
}

func renderFacets(f model.Facets) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styleCell.Render("categories"), strings.Join(f.Categories, ", "))
	fmt.Fprintf(&b, "%s %s\n", styleCell.Render("locations"), strings.Join(f.Locations, ", "))
	if f.MinPrice != "" {
		fmt.Fprintf(&b, "%s %s .. %s\n", styleCell.Render("price"), f.MinPrice, f.MaxPrice)
	}
	return b.String()
}
