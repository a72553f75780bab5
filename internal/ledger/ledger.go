package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open [Start, End) time range in UTC.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the interval is well-formed (End after Start).
func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Hold is a resource's claim on a time interval on behalf of a booking.
type Hold struct {
	ID         string
	ResourceID string
	BookingID  string
	Interval   Interval
}

// Overlap describes an existing hold that intersects a queried interval.
type Overlap struct {
	BookingID  string
	ResourceID string
	Interval   Interval
}

// ConflictError is returned when a reservation loses against existing
// holds. It carries every overlapping hold so callers can report exactly
// which bookings collide.
type ConflictError struct {
	Interval Interval
	Overlaps []Overlap
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("interval [%s, %s) overlaps %d existing hold(s)",
		e.Interval.Start.Format(time.RFC3339), e.Interval.End.Format(time.RFC3339), len(e.Overlaps))
}

// schedule is the per-resource set of disjoint holds, sorted by start.
// Its mutex serialises every check-then-insert on the resource.
type schedule struct {
	mu    sync.Mutex
	holds []*Hold
}

// overlapping returns holds intersecting iv, skipping holds that belong to
// excludeBookingID. Callers must hold s.mu.
func (s *schedule) overlapping(iv Interval, excludeBookingID string) []*Hold {
	var out []*Hold
	for _, h := range s.holds {
		if !h.Interval.Start.Before(iv.End) {
			break
		}
		if excludeBookingID != "" && h.BookingID == excludeBookingID {
			continue
		}
		if h.Interval.Overlaps(iv) {
			out = append(out, h)
		}
	}
	return out
}

// insert places h keeping the slice sorted by interval start.
// Callers must hold s.mu.
func (s *schedule) insert(h *Hold) {
	idx := sort.Search(len(s.holds), func(i int) bool {
		return s.holds[i].Interval.Start.After(h.Interval.Start)
	})
	s.holds = append(s.holds, nil)
	copy(s.holds[idx+1:], s.holds[idx:])
	s.holds[idx] = h
}

// remove drops the hold with the given id. Callers must hold s.mu.
func (s *schedule) remove(holdID string) {
	for i, h := range s.holds {
		if h.ID == holdID {
			s.holds = append(s.holds[:i], s.holds[i+1:]...)
			return
		}
	}
}

// Ledger indexes the time intervals currently held by each resource and
// serialises reservations per resource. It guarantees that no resource
// ever carries two overlapping holds.
type Ledger struct {
	mu        sync.RWMutex
	resources map[string]*schedule
	holds     map[string]*Hold
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		resources: make(map[string]*schedule),
		holds:     make(map[string]*Hold),
	}
}

// schedules resolves (creating when absent) the schedule for every id.
func (l *Ledger) schedules(resourceIDs []string) []*schedule {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*schedule, len(resourceIDs))
	for i, id := range resourceIDs {
		s, ok := l.resources[id]
		if !ok {
			s = &schedule{}
			l.resources[id] = s
		}
		out[i] = s
	}
	return out
}

// Reserve claims the interval on a single resource for the booking.
func (l *Ledger) Reserve(resourceID, bookingID string, iv Interval) (string, error) {
	ids, err := l.ReserveAll(bookingID, iv, []string{resourceID})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// ReserveAll atomically claims the interval on every resource for the
// booking. Resource locks are taken in sorted id order so concurrent
// multi-resource reservations cannot deadlock. Holds already owned by the
// same booking are ignored, which lets move/resize reserve the new
// interval before releasing the old one. On conflict no hold is created
// and a *ConflictError listing every collision is returned.
func (l *Ledger) ReserveAll(bookingID string, iv Interval, resourceIDs []string) ([]string, error) {
	if !iv.Valid() {
		return nil, fmt.Errorf("invalid interval: end %s not after start %s", iv.End.Format(time.RFC3339), iv.Start.Format(time.RFC3339))
	}

	ids := dedupeSorted(resourceIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no resources to reserve")
	}
	scheds := l.schedules(ids)

	for _, s := range scheds {
		s.mu.Lock()
	}
	defer func() {
		for i := len(scheds) - 1; i >= 0; i-- {
			scheds[i].mu.Unlock()
		}
	}()

	var overlaps []Overlap
	for i, s := range scheds {
		for _, h := range s.overlapping(iv, bookingID) {
			overlaps = append(overlaps, Overlap{BookingID: h.BookingID, ResourceID: ids[i], Interval: h.Interval})
		}
	}
	if len(overlaps) > 0 {
		return nil, &ConflictError{Interval: iv, Overlaps: overlaps}
	}

	holdIDs := make([]string, len(ids))
	created := make([]*Hold, len(ids))
	for i, s := range scheds {
		h := &Hold{
			ID:         uuid.NewString(),
			ResourceID: ids[i],
			BookingID:  bookingID,
			Interval:   iv,
		}
		s.insert(h)
		holdIDs[i] = h.ID
		created[i] = h
	}

	l.mu.Lock()
	for _, h := range created {
		l.holds[h.ID] = h
	}
	l.mu.Unlock()

	return holdIDs, nil
}

// Release frees a single hold. Releasing an unknown hold is a no-op.
func (l *Ledger) Release(holdID string) {
	l.mu.RLock()
	h, ok := l.holds[holdID]
	var s *schedule
	if ok {
		s = l.resources[h.ResourceID]
	}
	l.mu.RUnlock()
	if !ok || s == nil {
		return
	}

	s.mu.Lock()
	s.remove(holdID)
	s.mu.Unlock()

	l.mu.Lock()
	delete(l.holds, holdID)
	l.mu.Unlock()
}

// ReleaseHolds frees every hold in the slice.
func (l *Ledger) ReleaseHolds(holdIDs []string) {
	for _, id := range holdIDs {
		l.Release(id)
	}
}

// HoldsForBooking returns the ids of every hold owned by the booking.
func (l *Ledger) HoldsForBooking(bookingID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for id, h := range l.holds {
		if h.BookingID == bookingID {
			out = append(out, id)
		}
	}
	return out
}

// ReleaseBooking frees every hold owned by the booking.
func (l *Ledger) ReleaseBooking(bookingID string) {
	l.ReleaseHolds(l.HoldsForBooking(bookingID))
}

// ReleaseResourceHold frees the booking's hold on one resource, if any.
func (l *Ledger) ReleaseResourceHold(bookingID, resourceID string) {
	l.mu.RLock()
	var holdID string
	for id, h := range l.holds {
		if h.BookingID == bookingID && h.ResourceID == resourceID {
			holdID = id
			break
		}
	}
	l.mu.RUnlock()
	if holdID != "" {
		l.Release(holdID)
	}
}

// QueryOverlaps returns the holds on the resource intersecting the
// interval, excluding those owned by excludeBookingID.
func (l *Ledger) QueryOverlaps(resourceID string, iv Interval, excludeBookingID string) []Overlap {
	l.mu.RLock()
	s := l.resources[resourceID]
	l.mu.RUnlock()
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	holds := s.overlapping(iv, excludeBookingID)
	out := make([]Overlap, 0, len(holds))
	for _, h := range holds {
		out = append(out, Overlap{BookingID: h.BookingID, ResourceID: resourceID, Interval: h.Interval})
	}
	return out
}

func dedupeSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
