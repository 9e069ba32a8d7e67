package models

import "time"

// ValuationReport summarises one valuation sweep.
type ValuationReport struct {
	RunID       string
	Processed   int
	Updated     int
	NoEstimate  int
	Cooldown    int
	Failed      int
	Interrupted bool
	Elapsed     time.Duration
}

// DedupOutcome is the per-listing decision of a dedup sweep.
type DedupOutcome struct {
	ListingID         int64
	Decision          DedupDecision
	DedupScore        *float64
	MatchedPropertyID *int64
	Reason            string
}

// DedupReport summarises one dedup/import sweep.
type DedupReport struct {
	RunID       string
	DryRun      bool
	Processed   int
	Imported    int
	Matched     int
	Review      int
	Rejected    int
	Unresolved  int
	Conflicts   int
	Failed      int
	Interrupted bool
	Outcomes    []DedupOutcome
	Elapsed     time.Duration
}

// Skipped counts every processed listing that was not imported as new.
func (r *DedupReport) Skipped() int {
	return r.Matched + r.Review + r.Rejected + r.Unresolved + r.Conflicts + r.Failed
}

// IngestReport summarises one external price collection run.
type IngestReport struct {
	Files      int
	Rows       int
	Inserted   int
	Duplicates int
	Invalid    int
	Unresolved int
}

// DedupDecision is what the matcher decided for one listing.
type DedupDecision uint8

const (
	DecisionNew DedupDecision = iota
	DecisionReview
	DecisionMatch
	DecisionUnresolved
	DecisionReject
)

func (d DedupDecision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionReview:
		return "review"
	case DecisionMatch:
		return "match"
	case DecisionUnresolved:
		return "unresolved"
	case DecisionReject:
		return "reject"
	}
	return "unknown"
}
