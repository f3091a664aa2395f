package repo

import (
	"context"

	"github.com/adrianmcphee/planbase/model"
)

// Resources stores bookable resources. A resource with bookings cannot be
// deleted, cancelled bookings included.
type Resources struct {
	*Collection[model.Resource, *model.Resource]
}

func newResources(r *Repositories) *Resources {
	res := &Resources{
		Collection: newCollection[model.Resource](r.Store, model.Resources, "resource",
			func(x *model.Resource) []string { return []string{x.Name, x.Description, x.Location} }),
	}
	res.hooks.beforeDelete = func(ctx context.Context, old *model.Resource) error {
		return guard(ctx, res.store, "resource", old.ID, model.ResourceBookings, model.BookingByResource)
	}
	return res
}

func (r *Resources) FindByType(ctx context.Context, typ string) ([]*model.Resource, error) {
	return r.FindBy(ctx, model.ResourceByType, typ)
}

func (r *Resources) FindAvailable(ctx context.Context) ([]*model.Resource, error) {
	return r.FindBy(ctx, model.ResourceByAvailable, true)
}

// ResourceStats summarizes resources.
type ResourceStats struct {
	Total         int            `json:"total"`
	Available     int            `json:"available"`
	ByType        map[string]int `json:"byType"`
	TotalCapacity int            `json:"totalCapacity"`
}

func (r *Resources) Stats(ctx context.Context) (ResourceStats, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return ResourceStats{}, err
	}
	stats := ResourceStats{Total: len(all), ByType: make(map[string]int)}
	for _, x := range all {
		stats.ByType[x.Type]++
		if x.IsAvailable {
			stats.Available++
		}
		if x.Capacity != nil {
			stats.TotalCapacity += *x.Capacity
		}
	}
	return stats, nil
}
