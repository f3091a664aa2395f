package repo

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

func createResource(t *testing.T, r *Repositories, name string) *model.Resource {
	t.Helper()
	res, err := r.Resources.Create(context.Background(), &model.Resource{
		Name:        name,
		Type:        model.ResourceMeetingRoom,
		IsAvailable: true,
	})
	require.NoError(t, err)
	return res
}

func book(r *Repositories, resourceID, memberID string, start, end time.Time) (*model.ResourceBooking, error) {
	return r.Bookings.Create(context.Background(), &model.ResourceBooking{
		ResourceID: resourceID,
		MemberID:   memberID,
		Title:      "sync",
		StartDate:  start,
		EndDate:    end,
		Status:     model.BookingConfirmed,
	})
}

func TestBookings_OverlapRejected(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepos(t)
	room := createResource(t, r, "resource-A")
	ada := createMember(t, r, "Ada", "")

	first, err := book(r, room.ID, ada.ID, date(2024, 3, 14, 10, 0), date(2024, 3, 14, 11, 0))
	require.NoError(t, err)

	_, err = book(r, room.ID, ada.ID, date(2024, 3, 14, 10, 30), date(2024, 3, 14, 11, 30))
	var conflict *planbase.BookingConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, room.ID, conflict.ResourceID)
	assert.Equal(t, []string{first.ID}, conflict.ConflictingIDs)
	assert.True(t, planbase.IsConflict(err))

	n, err := r.Bookings.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// touching intervals do not overlap
	_, err = book(r, room.ID, ada.ID, date(2024, 3, 14, 11, 0), date(2024, 3, 14, 12, 0))
	require.NoError(t, err)
}

func TestBookings_CancelledFreesSlot(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepos(t)
	room := createResource(t, r, "Room 1")
	ada := createMember(t, r, "Ada", "")

	first, err := book(r, room.ID, ada.ID, date(2024, 3, 14, 10, 0), date(2024, 3, 14, 11, 0))
	require.NoError(t, err)

	cancelled, err := r.Bookings.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)

	_, err = book(r, room.ID, ada.ID, date(2024, 3, 14, 10, 30), date(2024, 3, 14, 11, 30))
	require.NoError(t, err)

	// reinstating the cancelled booking would now overlap
	_, err = r.Bookings.Update(ctx, first.ID, func(b *model.ResourceBooking) error {
		b.Status = model.BookingConfirmed
		return nil
	})
	assert.ErrorIs(t, err, planbase.ErrBookingConflict)
}

func TestBookings_UpdateExcludesItself(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepos(t)
	room := createResource(t, r, "Room 1")
	ada := createMember(t, r, "Ada", "")

	b, err := book(r, room.ID, ada.ID, date(2024, 3, 14, 10, 0), date(2024, 3, 14, 11, 0))
	require.NoError(t, err)

	moved, err := r.Bookings.Update(ctx, b.ID, func(x *model.ResourceBooking) error {
		x.EndDate = date(2024, 3, 14, 11, 30)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 14, 11, 30), moved.EndDate)
}

func TestBookings_EndMustFollowStart(t *testing.T) {
	r, _ := setupRepos(t)
	room := createResource(t, r, "Room 1")
	ada := createMember(t, r, "Ada", "")

	at := date(2024, 3, 14, 10, 0)
	_, err := book(r, room.ID, ada.ID, at, at)
	assert.True(t, planbase.IsValidation(err))

	_, err = book(r, room.ID, ada.ID, at, at.Add(-time.Minute))
	assert.True(t, planbase.IsValidation(err))
}

func TestBookings_ReferencesChecked(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepos(t)
	room := createResource(t, r, "Room 1")
	ada := createMember(t, r, "Ada", "")
	start, end := date(2024, 3, 14, 10, 0), date(2024, 3, 14, 11, 0)

	_, err := book(r, "ghost", ada.ID, start, end)
	assert.True(t, planbase.IsValidation(err))

	_, err = book(r, room.ID, "ghost", start, end)
	assert.True(t, planbase.IsValidation(err))

	n, err := r.Bookings.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBookings_CheckConflictsAndFinders(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepos(t)
	room := createResource(t, r, "Room 1")
	other := createResource(t, r, "Room 2")
	ada := createMember(t, r, "Ada", "")

	a, err := book(r, room.ID, ada.ID, date(2024, 3, 14, 9, 0), date(2024, 3, 14, 10, 0))
	require.NoError(t, err)
	b, err := book(r, room.ID, ada.ID, date(2024, 3, 14, 13, 0), date(2024, 3, 14, 14, 0))
	require.NoError(t, err)
	_, err = book(r, other.ID, ada.ID, date(2024, 3, 14, 9, 0), date(2024, 3, 14, 10, 0))
	require.NoError(t, err)

	conflicts, err := r.Bookings.CheckConflicts(ctx, room.ID, date(2024, 3, 14, 9, 30), date(2024, 3, 14, 13, 30), "")
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)

	conflicts, err = r.Bookings.CheckConflicts(ctx, room.ID, date(2024, 3, 14, 9, 30), date(2024, 3, 14, 13, 30), a.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, b.ID, conflicts[0].ID)

	inRange, err := r.Bookings.FindByResourceInRange(ctx, room.ID, date(2024, 3, 14, 12, 0), date(2024, 3, 14, 18, 0))
	require.NoError(t, err)
	require.Len(t, inRange, 1)
	assert.Equal(t, b.ID, inRange[0].ID)

	mine, err := r.Bookings.FindByMember(ctx, ada.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	confirmed, err := r.Bookings.FindByResourceAndStatus(ctx, room.ID, model.BookingConfirmed)
	require.NoError(t, err)
	assert.Len(t, confirmed, 2)

	stats, err := r.Bookings.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Upcoming)
}

func TestResources_DeleteGuardedByBookings(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepos(t)
	room := createResource(t, r, "Room 1")
	ada := createMember(t, r, "Ada", "")

	b, err := book(r, room.ID, ada.ID, date(2024, 3, 14, 10, 0), date(2024, 3, 14, 11, 0))
	require.NoError(t, err)
	_, err = r.Bookings.Cancel(ctx, b.ID)
	require.NoError(t, err)

	err = r.Resources.Delete(ctx, room.ID)
	var rerr *planbase.ReferentialIntegrityError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 1, rerr.Count)

	require.NoError(t, r.Bookings.Delete(ctx, b.ID))
	require.NoError(t, r.Resources.Delete(ctx, room.ID))

	stats, err := r.Resources.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

// TestBookings_NeverOverlap inserts random intervals and checks that every
// accepted booking is disjoint from the others and every rejected one
// overlapped an accepted booking.
func TestBookings_NeverOverlap(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepos(t)
	room := createResource(t, r, "Room 1")
	ada := createMember(t, r, "Ada", "")

	rng := rand.New(rand.NewSource(42))
	origin := date(2024, 3, 18, 8, 0)
	slot := 15 * time.Minute

	type interval struct{ start, end time.Time }
	var accepted []interval

	for i := 0; i < 150; i++ {
		start := origin.Add(time.Duration(rng.Intn(96)) * slot)
		end := start.Add(time.Duration(1+rng.Intn(8)) * slot)

		overlapsAccepted := false
		for _, a := range accepted {
			if model.Overlaps(a.start, a.end, start, end) {
				overlapsAccepted = true
				break
			}
		}

		_, err := book(r, room.ID, ada.ID, start, end)
		if overlapsAccepted {
			require.ErrorIs(t, err, planbase.ErrBookingConflict, "insert %d [%s, %s)", i, start, end)
			continue
		}
		require.NoError(t, err, "insert %d [%s, %s)", i, start, end)
		accepted = append(accepted, interval{start, end})
	}
	require.NotEmpty(t, accepted)

	stored, err := r.Bookings.FindByResource(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, stored, len(accepted))
	for i := range stored {
		for j := i + 1; j < len(stored); j++ {
			a, b := stored[i], stored[j]
			assert.False(t, model.Overlaps(a.StartDate, a.EndDate, b.StartDate, b.EndDate),
				"bookings %s and %s overlap", a.ID, b.ID)
		}
	}
}
