package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a result set with the token required to fetch the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is the canonical product record shared across layers. SKU is the
// only stable join key between products and storage objects; titles and
// descriptions are never used for image matching.
type Product struct {
	SKU         string
	Title       string
	Description string
	Price       float64
	Currency    string
	Category    string
	// ImageURL holds the primary image. Images holds the full ordered set.
	// Persisted as one string column plus one JSON-encoded array column;
	// the codec in images.go owns that contract.
	ImageURL  string
	Images    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Category   string
	Search     string
	Pagination Pagination
}

// StorageObject describes one entry from the image bucket listing. A name
// ending in "/" marks a pseudo-directory and is excluded from matching.
type StorageObject struct {
	Name        string
	Size        int64
	ContentType string
	Updated     time.Time
}

// IsDirectory reports whether the object is a pseudo-directory entry.
func (o StorageObject) IsDirectory() bool {
	return len(o.Name) > 0 && o.Name[len(o.Name)-1] == '/'
}

// CandidateSource identifies where an image candidate URL came from.
type CandidateSource string

const (
	// CandidateSourceDirectField means the URL was read off the product record.
	CandidateSourceDirectField CandidateSource = "direct-field"
	// CandidateSourceGenerated means the URL was derived from the SKU alone.
	CandidateSourceGenerated CandidateSource = "generated-from-sku"
	// CandidateSourceStorageMatch means a bucket listing entry matched the SKU.
	CandidateSourceStorageMatch CandidateSource = "storage-match"
)

// Confidence orders candidate sources: direct field > generated guess >
// storage match.
func (s CandidateSource) Confidence() int {
	switch s {
	case CandidateSourceDirectField:
		return 3
	case CandidateSourceGenerated:
		return 2
	case CandidateSourceStorageMatch:
		return 1
	default:
		return 0
	}
}

// ImageCandidate is a not-yet-verified URL proposed as a product image.
type ImageCandidate struct {
	SKU    string
	URL    string
	Object string
	Source CandidateSource
}

// VerificationStatus tracks the lifecycle of a single URL probe.
type VerificationStatus string

const (
	// VerificationPending means the URL has not finished verification.
	VerificationPending VerificationStatus = "pending"
	// VerificationVerified means the URL serves a reachable image.
	VerificationVerified VerificationStatus = "verified"
	// VerificationFailed means every attempt exhausted without success.
	VerificationFailed VerificationStatus = "failed"
)

// FailureClass buckets terminal verification errors.
type FailureClass string

const (
	// FailureTimeout marks attempts cut off by the per-attempt deadline.
	FailureTimeout FailureClass = "timeout"
	// FailureNetwork marks transport-level failures (DNS, refused connections).
	FailureNetwork FailureClass = "network"
	// FailureHTTPStatus marks definitive non-2xx responses.
	FailureHTTPStatus FailureClass = "http-status"
	// FailureContentType marks 2xx responses that are not images.
	FailureContentType FailureClass = "content-type-mismatch"
)

// VerificationResult is the terminal outcome of probing one candidate URL.
type VerificationResult struct {
	URL        string
	Status     VerificationStatus
	RetryCount int
	Error      string
	Class      FailureClass
}

// ResolvedImageSet holds the verified, priority-ordered image URLs for one
// product. The first entry is the primary image; an empty set means callers
// must substitute a placeholder.
type ResolvedImageSet struct {
	SKU  string
	URLs []string
}

// Primary returns the primary image URL or "" when the set is empty.
func (s ResolvedImageSet) Primary() string {
	if len(s.URLs) == 0 {
		return ""
	}
	return s.URLs[0]
}

// IsEmpty reports whether reconciliation found no verified image.
func (s ResolvedImageSet) IsEmpty() bool { return len(s.URLs) == 0 }

// ReconcileReport aggregates a reconciliation run for diagnostic surfaces.
type ReconcileReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Products    int
	Resolved    int
	Unresolved  int
	Persisted   int
	WriteErrors []string
	Results     map[string]ResolvedImageSet
	Detail      []VerificationResult
}

// ImportRow is one normalized row from a CSV/XLSX product import file.
type ImportRow struct {
	Line    int
	Product Product
}

// ImportReport summarises an admin import run.
type ImportReport struct {
	RunID     string
	Source    string
	StartedAt time.Time
	Total     int
	Imported  int
	Skipped   int
	Errors    []ImportError
}

// ImportError records a per-row failure without aborting the batch.
type ImportError struct {
	Line   int
	SKU    string
	Reason string
}

// StorageHealth reports the state of the image bucket for admin tooling.
type StorageHealth struct {
	Bucket      string
	Exists      bool
	Listable    bool
	ObjectCount int
	SampleURL   string
	SampleOK    bool
	CheckedAt   time.Time
	Detail      string
}

// CleanupReport summarises an orphaned-object sweep.
type CleanupReport struct {
	Bucket   string
	Scanned  int
	Orphans  []string
	Deleted  int
	DryRun   bool
	Failures []string
}

// ImageUpload records a product image written to the bucket.
type ImageUpload struct {
	SKU         string
	Object      string
	URL         string
	Size        int64
	ContentType string
	UploadedAt  time.Time
}
