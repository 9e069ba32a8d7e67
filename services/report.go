package services

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"ancer-engine/models"
)

const reportWidth = 54

// Printer renders sweep reports for the terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a Printer. Colour escapes are emitted only when color
// is set.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

func (p *Printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (p *Printer) header(title string) {
	sep := strings.Repeat("═", reportWidth)
	fmt.Fprintf(p.w, "\n%s\n", p.paint("1;35", sep))
	fmt.Fprintf(p.w, "%s\n", p.paint("1;35", "  "+title))
	fmt.Fprintf(p.w, "%s\n\n", p.paint("1;35", sep))
}

func (p *Printer) section(title string) {
	fmt.Fprintf(p.w, "%s\n", p.paint("1;33", "  "+title))
	fmt.Fprintf(p.w, "  %s\n", strings.Repeat("─", reportWidth))
}

func (p *Printer) row(label string, value any) {
	fmt.Fprintf(p.w, "  %-24s: %s\n", label, p.paint("1", fmt.Sprint(value)))
}

func (p *Printer) footer() {
	fmt.Fprintf(p.w, "\n%s\n\n", p.paint("1;35", strings.Repeat("═", reportWidth)))
}

// Valuation prints a valuation sweep summary.
func (p *Printer) Valuation(r *models.ValuationReport) {
	p.header("VALUATION SWEEP")
	p.section("Run")
	p.row("Run id", r.RunID)
	p.row("Elapsed", r.Elapsed.Round(time.Millisecond))
	p.row("Interrupted", r.Interrupted)
	fmt.Fprintln(p.w)

	p.section("Properties")
	p.row("Processed", humanize.Comma(int64(r.Processed)))
	p.row("Updated", humanize.Comma(int64(r.Updated)))
	p.row("No estimate", humanize.Comma(int64(r.NoEstimate)))
	p.row("Skipped (cooldown)", humanize.Comma(int64(r.Cooldown)))
	p.row("Failed", humanize.Comma(int64(r.Failed)))
	p.footer()
}

// Dedup prints a dedup sweep summary. Per-listing decisions are listed
// only for dry runs.
func (p *Printer) Dedup(r *models.DedupReport) {
	title := "SCRAPED LISTING IMPORT"
	if r.DryRun {
		title += " (DRY RUN)"
	}
	p.header(title)
	p.section("Run")
	p.row("Run id", r.RunID)
	p.row("Elapsed", r.Elapsed.Round(time.Millisecond))
	p.row("Interrupted", r.Interrupted)
	fmt.Fprintln(p.w)

	p.section("Listings")
	p.row("Processed", humanize.Comma(int64(r.Processed)))
	p.row("Imported", humanize.Comma(int64(r.Imported)))
	p.row("Skipped", humanize.Comma(int64(r.Skipped())))
	p.row("  matched", humanize.Comma(int64(r.Matched)))
	p.row("  awaiting review", humanize.Comma(int64(r.Review)))
	p.row("  rejected", humanize.Comma(int64(r.Rejected)))
	p.row("  unresolved location", humanize.Comma(int64(r.Unresolved)))
	p.row("  concurrent run", humanize.Comma(int64(r.Conflicts)))
	p.row("  failed", humanize.Comma(int64(r.Failed)))

	if r.DryRun && len(r.Outcomes) > 0 {
		fmt.Fprintln(p.w)
		p.section("Decisions")
		for _, o := range r.Outcomes {
			fmt.Fprintf(p.w, "  #%-8d %-11s %s\n", o.ListingID, o.Decision, describeOutcome(o))
		}
	}
	p.footer()
}

// Ingest prints an external price collection summary.
func (p *Printer) Ingest(r *models.IngestReport) {
	p.header("EXTERNAL PRICE COLLECTION")
	p.section("Rows")
	p.row("Files", humanize.Comma(int64(r.Files)))
	p.row("Rows read", humanize.Comma(int64(r.Rows)))
	p.row("Inserted", humanize.Comma(int64(r.Inserted)))
	p.row("Already known", humanize.Comma(int64(r.Duplicates)))
	p.row("Invalid", humanize.Comma(int64(r.Invalid)))
	p.row("Unknown area", humanize.Comma(int64(r.Unresolved)))
	p.footer()
}

// Appraisal prints a single-property estimate with its comparables.
func (p *Printer) Appraisal(a *Appraisal) {
	p.header(fmt.Sprintf("ESTIMATE FOR PROPERTY #%d", a.Property.ID))
	p.section("Property")
	p.row("Title", truncate(a.Property.Title, 40))
	p.row("Listed price", Naira(a.Property.PriceKobo))
	fmt.Fprintln(p.w)

	p.section("Estimate")
	if !a.OK {
		fmt.Fprintf(p.w, "  No comparable evidence available\n")
	} else {
		v := a.Valuation
		p.row("Estimate", p.paint("1;32", Naira(v.EstimateKobo)))
		p.row("Range", fmt.Sprintf("%s to %s", Naira(v.LowKobo), Naira(v.HighKobo)))
		p.row("Confidence", fmt.Sprintf("%.0f%%", v.Confidence*100))
		p.row("Comparables used", v.ComparableCount)
	}

	if len(a.Comparables) > 0 {
		fmt.Fprintln(p.w)
		p.section("Comparables")
		for i, c := range a.Comparables {
			fmt.Fprintf(p.w, "  %2d. %-8s #%-7d %-16s sim %.2f  %s\n",
				i+1, c.Source, c.RecordID, Naira(c.PriceKobo), c.Similarity, humanize.Time(c.ObservedAt))
		}
	}
	p.footer()
}

// Naira formats a kobo amount as whole naira with thousands separators.
func Naira(kobo int64) string {
	return "₦" + humanize.Comma((kobo+50)/100)
}

func describeOutcome(o models.DedupOutcome) string {
	switch {
	case o.Reason != "":
		return o.Reason
	case o.MatchedPropertyID != nil && o.DedupScore != nil:
		return fmt.Sprintf("score %.3f -> property #%d", *o.DedupScore, *o.MatchedPropertyID)
	case o.DedupScore != nil:
		return fmt.Sprintf("score %.3f", *o.DedupScore)
	}
	return "-"
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
