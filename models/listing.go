package models

import (
	"encoding/json"
	"time"
)

// ScrapedStatus is the import state of a scraped listing.
// pending is the only non-terminal state.
type ScrapedStatus uint8

const (
	StatusPending ScrapedStatus = iota
	StatusImported
	StatusMatched
	StatusRejected
)

func (s ScrapedStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusImported:
		return "imported"
	case StatusMatched:
		return "matched"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// ParseScrapedStatus is the inverse of String.
func ParseScrapedStatus(s string) (ScrapedStatus, bool) {
	switch s {
	case "pending":
		return StatusPending, true
	case "imported":
		return StatusImported, true
	case "matched":
		return StatusMatched, true
	case "rejected":
		return StatusRejected, true
	}
	return StatusPending, false
}

// Terminal reports whether no further transition is allowed.
func (s ScrapedStatus) Terminal() bool {
	return s != StatusPending
}

// CanTransition reports whether moving from s to next is a legal step.
func (s ScrapedStatus) CanTransition(next ScrapedStatus) bool {
	return s == StatusPending && next != StatusPending
}

// ScrapedListing holds a listing collected by an external scraper.
// The engine only touches Status, DedupScore, MatchedPropertyID and
// RejectionReason.
type ScrapedListing struct {
	ID           int64
	Source       string
	SourceURL    string
	RawPayload   json.RawMessage
	Title        string
	PriceKobo    *int64
	Location     string
	Bedrooms     *int
	PropertyType string
	ListingType  string
	Status       ScrapedStatus

	DedupScore        *float64
	MatchedPropertyID *int64
	RejectionReason   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListingTransition is a single conditional state change for a pending
// scraped listing.
type ListingTransition struct {
	ListingID         int64
	To                ScrapedStatus
	DedupScore        *float64
	MatchedPropertyID *int64
	RejectionReason   string
}
