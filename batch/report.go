package batch

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/cost"
	"github.com/klejdi94/synthpanel/rater"
)

// Failure stages.
const (
	StageGenerate = "generate"
	StageEmbed    = "embed"
	StageScore    = "score"
)

// EvaluationResult is one consumer's response for one trial, scored against every anchor set.
type EvaluationResult struct {
	ProfileID string         `json:"profile_id"`
	Trial     int            `json:"trial"`
	Response  string         `json:"response"`
	Ratings   []rater.Rating `json:"ratings"`
	PMF       core.PMF       `json:"pmf"`
	Rating    float64        `json:"rating"`
	LatencyMs int64          `json:"latency_ms"`
}

// Distributions returns the per-anchor-set PMFs in anchor set order.
func (r *EvaluationResult) Distributions() []core.PMF {
	out := make([]core.PMF, len(r.Ratings))
	for i, rt := range r.Ratings {
		out[i] = rt.PMF
	}
	return out
}

// ProfileRating aggregates a profile's successful trials.
type ProfileRating struct {
	ProfileID   string   `json:"profile_id"`
	Description string   `json:"description,omitempty"`
	Rating      float64  `json:"rating"`
	PMF         core.PMF `json:"pmf"`
	Trials      int      `json:"trials"`
}

// ItemFailure records why one (profile, trial) item was excluded from aggregation.
type ItemFailure struct {
	ProfileID string `json:"profile_id"`
	Trial     int    `json:"trial"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// CorpusSummary describes the distribution of per-profile ratings and how much of the batch completed.
type CorpusSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`

	Planned       int  `json:"planned"`
	Attempted     int  `json:"attempted"`
	Succeeded     int  `json:"succeeded"`
	ProfilesRated int  `json:"profiles_rated"`
	Partial       bool `json:"partial"`
}

// Report is the outcome of one batch run.
type Report struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMs int64              `json:"duration_ms"`
	Question   string             `json:"question"`
	AnchorSets []string           `json:"anchor_sets"`
	Trials     int                `json:"trials"`
	Beta       float64            `json:"beta"`
	Summary    CorpusSummary      `json:"summary"`
	Profiles   []ProfileRating    `json:"profiles"`
	Results    []EvaluationResult `json:"results"`
	Failures   []ItemFailure      `json:"failures,omitempty"`
	Usage      *cost.Summary      `json:"usage,omitempty"`
}

// Summarize computes mean, population standard deviation, min and max of ratings.
// An empty input yields the zero summary.
func Summarize(ratings []float64) CorpusSummary {
	if len(ratings) == 0 {
		return CorpusSummary{}
	}
	mean, std := stat.PopMeanStdDev(ratings, nil)
	return CorpusSummary{
		Mean:          mean,
		Std:           std,
		Min:           floats.Min(ratings),
		Max:           floats.Max(ratings),
		ProfilesRated: len(ratings),
	}
}

// aggregateProfiles averages successful trials per profile, keeping profile order.
func aggregateProfiles(order []string, results []EvaluationResult) []ProfileRating {
	byProfile := make(map[string][]EvaluationResult, len(order))
	for _, r := range results {
		byProfile[r.ProfileID] = append(byProfile[r.ProfileID], r)
	}
	out := make([]ProfileRating, 0, len(order))
	for _, id := range order {
		rs := byProfile[id]
		if len(rs) == 0 {
			continue
		}
		scalars := make([]float64, len(rs))
		pmfs := make([]core.PMF, len(rs))
		for i, r := range rs {
			scalars[i] = r.Rating
			pmfs[i] = r.PMF
		}
		avg, _ := core.AveragePMF(pmfs)
		out = append(out, ProfileRating{
			ProfileID: id,
			Rating:    stat.Mean(scalars, nil),
			PMF:       avg,
			Trials:    len(rs),
		})
	}
	return out
}
