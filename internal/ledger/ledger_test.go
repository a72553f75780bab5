package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func interval(t *testing.T, startHour, endHour int) Interval {
	t.Helper()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return Interval{Start: day.Add(time.Duration(startHour) * time.Hour), End: day.Add(time.Duration(endHour) * time.Hour)}
}

func TestIntervalOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", interval(t, 9, 10), interval(t, 11, 12), false},
		{"touching is free", interval(t, 9, 10), interval(t, 10, 11), false},
		{"partial", interval(t, 9, 11), interval(t, 10, 12), true},
		{"contained", interval(t, 9, 12), interval(t, 10, 11), true},
		{"identical", interval(t, 9, 10), interval(t, 9, 10), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.a.Overlaps(tc.b))
			require.Equal(t, tc.want, tc.b.Overlaps(tc.a))
		})
	}
}

func TestReserveRejectsOverlap(t *testing.T) {
	l := New()
	_, err := l.Reserve("tutor-1", "bk-1", interval(t, 9, 10))
	require.NoError(t, err)

	_, err = l.Reserve("tutor-1", "bk-2", interval(t, 9, 10))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Overlaps, 1)
	require.Equal(t, "bk-1", conflict.Overlaps[0].BookingID)
	require.Equal(t, "tutor-1", conflict.Overlaps[0].ResourceID)

	// Adjacent interval on the same resource is fine.
	_, err = l.Reserve("tutor-1", "bk-3", interval(t, 10, 11))
	require.NoError(t, err)

	// Overlapping interval on another resource is fine.
	_, err = l.Reserve("tutor-2", "bk-4", interval(t, 9, 10))
	require.NoError(t, err)
}

func TestReserveAllIsAllOrNothing(t *testing.T) {
	l := New()
	_, err := l.Reserve("room-1", "bk-1", interval(t, 9, 10))
	require.NoError(t, err)

	_, err = l.ReserveAll("bk-2", interval(t, 9, 10), []string{"tutor-1", "room-1", "student-1"})
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))

	// The failed reservation must not leave partial holds behind.
	require.Empty(t, l.QueryOverlaps("tutor-1", interval(t, 9, 10), ""))
	require.Empty(t, l.QueryOverlaps("student-1", interval(t, 9, 10), ""))
}

func TestReserveAllIgnoresOwnHolds(t *testing.T) {
	l := New()
	holds, err := l.ReserveAll("bk-1", interval(t, 9, 10), []string{"tutor-1", "student-1"})
	require.NoError(t, err)
	require.Len(t, holds, 2)

	// Moving a booking may reserve an interval overlapping its own holds.
	newHolds, err := l.ReserveAll("bk-1", interval(t, 9, 11), []string{"tutor-1", "student-1"})
	require.NoError(t, err)
	l.ReleaseHolds(holds)

	require.Len(t, l.QueryOverlaps("tutor-1", interval(t, 0, 24), ""), 1)
	require.Len(t, newHolds, 2)
}

func TestReleaseFreesInterval(t *testing.T) {
	l := New()
	holdID, err := l.Reserve("tutor-1", "bk-1", interval(t, 9, 10))
	require.NoError(t, err)

	l.Release(holdID)
	_, err = l.Reserve("tutor-1", "bk-2", interval(t, 9, 10))
	require.NoError(t, err)

	// Releasing twice or releasing an unknown hold must not panic.
	l.Release(holdID)
	l.Release("nope")
}

func TestReleaseBooking(t *testing.T) {
	l := New()
	_, err := l.ReserveAll("bk-1", interval(t, 9, 10), []string{"tutor-1", "room-1", "student-1"})
	require.NoError(t, err)
	require.Len(t, l.HoldsForBooking("bk-1"), 3)

	l.ReleaseBooking("bk-1")
	require.Empty(t, l.HoldsForBooking("bk-1"))
	require.Empty(t, l.QueryOverlaps("room-1", interval(t, 9, 10), ""))
}

func TestConcurrentReserveExactlyOneWinner(t *testing.T) {
	l := New()
	const attempts = 64

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := l.ReserveAll(fmt.Sprintf("bk-%d", n), interval(t, 9, 10), []string{"tutor-1"})
			results <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var conflict *ConflictError
		require.True(t, errors.As(err, &conflict))
		conflicts++
	}
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, conflicts)
}

func TestConcurrentMultiResourceNoDeadlock(t *testing.T) {
	l := New()
	// Two bookings contend for the same pair of resources with opposite
	// declaration order; sorted lock acquisition must serialise them.
	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			wg.Add(2)
			iv := interval(t, 9, 10)
			go func() {
				defer wg.Done()
				if ids, err := l.ReserveAll("a", iv, []string{"tutor-1", "room-1"}); err == nil {
					l.ReleaseHolds(ids)
				}
			}()
			go func() {
				defer wg.Done()
				if ids, err := l.ReserveAll("b", iv, []string{"room-1", "tutor-1"}); err == nil {
					l.ReleaseHolds(ids)
				}
			}()
			wg.Wait()
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("multi-resource reservations deadlocked")
	}
}

func TestQueryOverlapsExcludesBooking(t *testing.T) {
	l := New()
	_, err := l.Reserve("tutor-1", "bk-1", interval(t, 9, 10))
	require.NoError(t, err)
	_, err = l.Reserve("tutor-1", "bk-2", interval(t, 10, 11))
	require.NoError(t, err)

	all := l.QueryOverlaps("tutor-1", interval(t, 9, 11), "")
	require.Len(t, all, 2)

	excluded := l.QueryOverlaps("tutor-1", interval(t, 9, 11), "bk-1")
	require.Len(t, excluded, 1)
	require.Equal(t, "bk-2", excluded[0].BookingID)
}
