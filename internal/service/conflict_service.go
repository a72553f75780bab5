package service

import (
	"github.com/noah-isme/lesson-scheduler-api/internal/ledger"
	"github.com/noah-isme/lesson-scheduler-api/internal/models"
)

// ResourceRef identifies a resource together with the conflict dimension
// it should be reported under.
type ResourceRef struct {
	ID        string
	Dimension models.ConflictDimension
}

// ConflictDetector answers "what collides with this interval" questions
// against the resource ledger.
type ConflictDetector struct {
	ledger *ledger.Ledger
}

// NewConflictDetector constructs the detector.
func NewConflictDetector(l *ledger.Ledger) *ConflictDetector {
	return &ConflictDetector{ledger: l}
}

// CheckConflicts queries the ledger for every resource in the set and
// returns the union of colliding bookings, deduplicated per booking and
// resource. Holds owned by excludeBookingID are ignored so no-op edits of
// an existing booking pass. An empty slice means the interval is clear;
// callers decide what that means.
func (d *ConflictDetector) CheckConflicts(refs []ResourceRef, iv ledger.Interval, excludeBookingID string) []models.BookingConflict {
	conflicts := make([]models.BookingConflict, 0)
	seen := make(map[[2]string]struct{})
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		for _, o := range d.ledger.QueryOverlaps(ref.ID, iv, excludeBookingID) {
			key := [2]string{o.BookingID, ref.ID}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			conflicts = append(conflicts, models.BookingConflict{
				BookingID:  o.BookingID,
				ResourceID: ref.ID,
				Dimension:  ref.Dimension,
				StartTime:  o.Interval.Start,
				EndTime:    o.Interval.End,
			})
		}
	}
	return conflicts
}

// bookingResourceRefs expands a booking's resources into dimension-tagged
// references for conflict reporting.
func bookingResourceRefs(tutorID string, roomID *string, studentIDs []string) []ResourceRef {
	refs := make([]ResourceRef, 0, len(studentIDs)+2)
	refs = append(refs, ResourceRef{ID: tutorID, Dimension: models.ConflictDimensionTutor})
	if roomID != nil && *roomID != "" {
		refs = append(refs, ResourceRef{ID: *roomID, Dimension: models.ConflictDimensionRoom})
	}
	for _, id := range studentIDs {
		refs = append(refs, ResourceRef{ID: id, Dimension: models.ConflictDimensionStudent})
	}
	return refs
}
