package repo

import (
	"context"
	"time"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
)

// Bookings stores resource bookings. Non-cancelled bookings of one resource
// never overlap: Create and Update check for conflicts inside the write
// transaction and fail with a *planbase.BookingConflictError.
type Bookings struct {
	*Collection[model.ResourceBooking, *model.ResourceBooking]
}

func newBookings(r *Repositories) *Bookings {
	b := &Bookings{
		Collection: newCollection[model.ResourceBooking](r.Store, model.ResourceBookings, "resourceBooking",
			func(x *model.ResourceBooking) []string { return []string{x.Title} }),
	}
	b.hooks.beforeWrite = b.beforeWrite
	return b
}

func (b *Bookings) beforeWrite(ctx context.Context, old, updated *model.ResourceBooking) error {
	var prev model.ResourceBooking
	if old != nil {
		prev = *old
	}
	if err := requireChangedRef(ctx, b.store, "resourceBooking", "resourceId", model.Resources, "resource", prev.ResourceID, updated.ResourceID); err != nil {
		return err
	}
	if err := requireChangedRef(ctx, b.store, "resourceBooking", "memberId", model.Members, "member", prev.MemberID, updated.MemberID); err != nil {
		return err
	}
	if !updated.Active() {
		return nil
	}

	conflicts, err := b.CheckConflicts(ctx, updated.ResourceID, updated.StartDate, updated.EndDate, updated.ID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		ids := make([]string, len(conflicts))
		for i, c := range conflicts {
			ids[i] = c.ID
		}
		return &planbase.BookingConflictError{ResourceID: updated.ResourceID, ConflictingIDs: ids}
	}
	return nil
}

// CheckConflicts returns the non-cancelled bookings of resourceID, other
// than excludeID, whose [startDate, endDate) intersects [start, end).
func (b *Bookings) CheckConflicts(ctx context.Context, resourceID string, start, end time.Time, excludeID string) ([]*model.ResourceBooking, error) {
	bookings, err := b.FindByResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	conflicts := make([]*model.ResourceBooking, 0)
	for _, existing := range bookings {
		if existing.ID == excludeID || !existing.Active() {
			continue
		}
		if model.Overlaps(existing.StartDate, existing.EndDate, start, end) {
			conflicts = append(conflicts, existing)
		}
	}
	return conflicts, nil
}

// Cancel frees a booking's slot. The booking is kept.
func (b *Bookings) Cancel(ctx context.Context, id string) (*model.ResourceBooking, error) {
	return b.Update(ctx, id, func(x *model.ResourceBooking) error {
		x.Status = model.BookingCancelled
		return nil
	})
}

func (b *Bookings) FindByResource(ctx context.Context, resourceID string) ([]*model.ResourceBooking, error) {
	return b.FindBy(ctx, model.BookingByResource, resourceID)
}

func (b *Bookings) FindByMember(ctx context.Context, memberID string) ([]*model.ResourceBooking, error) {
	return b.FindBy(ctx, model.BookingByMember, memberID)
}

// FindByResourceAndStatus uses the [resourceId+status] index.
func (b *Bookings) FindByResourceAndStatus(ctx context.Context, resourceID, status string) ([]*model.ResourceBooking, error) {
	return b.FindBy(ctx, model.BookingByResourceStatus, resourceID, status)
}

// FindByResourceInRange returns the non-cancelled bookings of a resource
// that intersect [from, to).
func (b *Bookings) FindByResourceInRange(ctx context.Context, resourceID string, from, to time.Time) ([]*model.ResourceBooking, error) {
	return b.CheckConflicts(ctx, resourceID, from, to, "")
}

// BookingStats summarizes bookings.
type BookingStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	Upcoming int            `json:"upcoming"`
	Ongoing  int            `json:"ongoing"`
}

func (b *Bookings) Stats(ctx context.Context) (BookingStats, error) {
	all, err := b.GetAll(ctx)
	if err != nil {
		return BookingStats{}, err
	}
	now := b.store.Now()
	stats := BookingStats{Total: len(all), ByStatus: make(map[string]int)}
	for _, x := range all {
		stats.ByStatus[x.Status]++
		if !x.Active() {
			continue
		}
		switch {
		case x.StartDate.After(now):
			stats.Upcoming++
		case x.EndDate.After(now):
			stats.Ongoing++
		}
	}
	return stats, nil
}
