package dedupe

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/agext/levenshtein"
)

// Certainty ranks how sure the detector is that a document was seen before
type Certainty string

const (
	CertaintyExact    Certainty = "exact"
	CertaintyLikely   Certainty = "likely"
	CertaintyPossible Certainty = "possible"
	CertaintyNone     Certainty = "none"
)

// Match is a prior entity the candidate collides with
type Match struct {
	Type       string   `json:"type"` // "document" or "record"
	ID         string   `json:"id"`
	Similarity *float64 `json:"similarity,omitempty"`

	score float64
}

// Verdict is the outcome of a duplicate check
type Verdict struct {
	Certainty Certainty `json:"certainty"`
	Reason    string    `json:"reason"`
	Matches   []Match   `json:"matches"`
}

// IsDuplicate reports whether anything matched
func (v Verdict) IsDuplicate() bool {
	return v.Certainty != CertaintyNone && v.Certainty != ""
}

// Candidate is the normalized view of the document being checked
type Candidate struct {
	Vendor        string
	InvoiceNumber string
	Total         *float64
	InvoiceDate   string
}

// PriorRecord is a stored record as the detector sees it
type PriorRecord struct {
	ID                string
	VendorNorm        string
	InvoiceNumber     string // display value
	InvoiceNumberNorm string // as stored
	Total             *float64
	InvoiceDate       string
}

// Index gives the detector read access to prior documents and records
type Index interface {
	// DocumentIDByHash returns the id of the document stored with hash, if any
	DocumentIDByHash(ctx context.Context, hash string) (string, bool, error)
	// VendorRecords returns records whose normalized vendor equals vendorNorm
	VendorRecords(ctx context.Context, vendorNorm string) ([]PriorRecord, error)
}

// Policy holds the tunables of the possible-duplicate tier
type Policy struct {
	// SimilarityThreshold is the minimum invoice-number similarity ratio
	SimilarityThreshold float64
	// TotalTolerance is the absolute amount two totals may differ by
	TotalTolerance float64
	// TotalToleranceRatio widens the tolerance to this fraction of the larger total, when larger
	TotalToleranceRatio float64
	// MaxMatches caps the possible-tier matches
	MaxMatches int
}

// DefaultPolicy returns the stock thresholds
func DefaultPolicy() Policy {
	return Policy{
		SimilarityThreshold: 0.90,
		TotalTolerance:      1.00,
		MaxMatches:          5,
	}
}

// Detector decides whether a document duplicates something already stored
type Detector struct {
	policy Policy
}

// NewDetector creates a Detector
func NewDetector(policy Policy) *Detector {
	if policy.MaxMatches <= 0 {
		policy.MaxMatches = DefaultPolicy().MaxMatches
	}
	return &Detector{policy: policy}
}

// Check runs the exact, likely and possible tiers in order and returns the first that matches
func (d *Detector) Check(ctx context.Context, hash string, c Candidate, idx Index) (Verdict, error) {
	if hash != "" {
		id, found, err := idx.DocumentIDByHash(ctx, hash)
		if err != nil {
			return Verdict{}, fmt.Errorf("looking up content hash: %w", err)
		}
		if found {
			return Verdict{
				Certainty: CertaintyExact,
				Reason:    "identical bytes",
				Matches:   []Match{{Type: "document", ID: id}},
			}, nil
		}
	}

	vend := NormalizeVendor(c.Vendor)
	invn := NormalizeInvoiceNumber(c.InvoiceNumber)
	if vend == "" {
		return none(), nil
	}

	records, err := idx.VendorRecords(ctx, vend)
	if err != nil {
		return Verdict{}, fmt.Errorf("listing vendor records: %w", err)
	}

	if invn != "" {
		for _, r := range records {
			if r.VendorNorm == vend && r.InvoiceNumberNorm == invn {
				return Verdict{
					Certainty: CertaintyLikely,
					Reason:    "same vendor and invoice number",
					Matches:   []Match{{Type: "record", ID: r.ID}},
				}, nil
			}
		}
	}

	var matches []Match
	for _, r := range records {
		sim := similarity(invn, r.InvoiceNumberNorm)
		renormalized := invn != "" && NormalizeInvoiceNumber(r.InvoiceNumber) == invn
		closeTotals := d.totalsClose(c.Total, r.Total) && c.InvoiceDate != "" && c.InvoiceDate == r.InvoiceDate

		if sim < d.policy.SimilarityThreshold && !renormalized && !closeTotals {
			continue
		}

		score := sim
		if renormalized {
			score = 1
		}
		if closeTotals && score < d.policy.SimilarityThreshold {
			score = d.policy.SimilarityThreshold
		}
		rounded := math.Round(sim*1000) / 1000
		matches = append(matches, Match{Type: "record", ID: r.ID, Similarity: &rounded, score: score})
	}

	if len(matches) == 0 {
		return none(), nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > d.policy.MaxMatches {
		matches = matches[:d.policy.MaxMatches]
	}

	return Verdict{
		Certainty: CertaintyPossible,
		Reason:    "near-duplicate by vendor and invoice heuristics",
		Matches:   matches,
	}, nil
}

func (d *Detector) totalsClose(a, b *float64) bool {
	if a == nil || b == nil {
		return false
	}
	tolerance := d.policy.TotalTolerance
	if d.policy.TotalToleranceRatio > 0 {
		scaled := math.Max(math.Abs(*a), math.Abs(*b)) * d.policy.TotalToleranceRatio
		tolerance = math.Max(tolerance, scaled)
	}
	return math.Abs(*a-*b) <= tolerance
}

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, nil)
}

func none() Verdict {
	return Verdict{
		Certainty: CertaintyNone,
		Reason:    "no duplicate found",
		Matches:   []Match{},
	}
}
