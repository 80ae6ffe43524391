package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/cost"
)

const (
	maxBins  = 15
	barWidth = 40
)

func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func formatPMF(p core.PMF) string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = fmt.Sprintf("%.2f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func printReport(w io.Writer, r *batch.Report) {
	for _, p := range r.Profiles {
		fmt.Fprintf(w, "  Consumer %s: %.2f\n", p.ProfileID, p.Rating)
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "\n%d items failed:\n", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  Consumer %s trial %d (%s): %s\n", f.ProfileID, f.Trial+1, f.Stage, f.Reason)
		}
	}

	ratings := make([]float64, len(r.Profiles))
	for i, p := range r.Profiles {
		ratings[i] = p.Rating
	}
	if len(ratings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Distribution of consumer ratings")
		for _, b := range histogram(ratings) {
			bar := strings.Repeat("#", b.width)
			fmt.Fprintf(w, "  %.2f-%.2f | %-*s %d\n", b.lo, b.hi, barWidth, bar, b.count)
		}
	}

	s := r.Summary
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 70))
	fmt.Fprintf(w, "Overall mean rating: %.2f\n", s.Mean)
	fmt.Fprintf(w, "Std deviation: %.2f\n", s.Std)
	fmt.Fprintf(w, "Min rating: %.2f\n", s.Min)
	fmt.Fprintf(w, "Max rating: %.2f\n", s.Max)
	fmt.Fprintf(w, "Items: %d succeeded / %d attempted / %d planned\n", s.Succeeded, s.Attempted, s.Planned)
	if s.Partial {
		fmt.Fprintln(w, "Run was interrupted; the summary covers completed items only.")
	}
	if r.Usage != nil {
		fmt.Fprintf(w, "Tokens: %d in / %d out", r.Usage.InputTokens, r.Usage.OutputTokens)
		if r.Usage.CostUSD > 0 {
			fmt.Fprintf(w, " ($%.4f)", r.Usage.CostUSD)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Run id: %s\n", r.RunID)
}

type bin struct {
	lo, hi float64
	count  int
	width  int
}

// histogram buckets ratings into min(15, n/2+1) equal-width bins over [min, max].
func histogram(ratings []float64) []bin {
	x := append([]float64(nil), ratings...)
	sort.Float64s(x)
	n := len(x)/2 + 1
	if n > maxBins {
		n = maxBins
	}
	lo, hi := floats.Min(x), floats.Max(x)
	if hi == lo {
		return []bin{{lo: lo, hi: hi, count: len(x), width: barWidth}}
	}
	// The upper divider is exclusive in stat.Histogram.
	dividers := floats.Span(make([]float64, n+1), lo, hi)
	dividers[n] = hi + 1e-9
	counts := stat.Histogram(nil, dividers, x, nil)

	peak := floats.Max(counts)
	out := make([]bin, n)
	for i, c := range counts {
		out[i] = bin{lo: dividers[i], hi: dividers[i+1], count: int(c), width: int(c / peak * barWidth)}
	}
	out[n-1].hi = hi
	return out
}

func printEstimate(w io.Writer, profiles, trials int, u cost.Summary) {
	fmt.Fprintf(w, "Dry run: %d consumers x %d trials = %d requests\n", profiles, trials, u.Requests)
	fmt.Fprintf(w, "Estimated tokens: %d in, %d out (upper bound)\n", u.InputTokens, u.OutputTokens)
	fmt.Fprintf(w, "Estimated cost: $%.4f\n", u.CostUSD)
}

func printChat(w io.Writer, msgs []archive.ChatMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Role, m.Content)
	}
}
