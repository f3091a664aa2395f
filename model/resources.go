package model

import "time"

const (
	ResourceMeetingRoom = "meetingRoom"
	ResourceTestDevice  = "testDevice"
	ResourceOther       = "other"
)

var ResourceTypes = newEnum(ResourceMeetingRoom, ResourceTestDevice, ResourceOther)

const (
	BookingConfirmed = "confirmed"
	BookingPending   = "pending"
	BookingCancelled = "cancelled"
)

var BookingStatuses = newEnum(BookingConfirmed, BookingPending, BookingCancelled)

// Resource is a bookable room or device.
type Resource struct {
	Base
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Capacity    *int   `json:"capacity,omitempty"`
	IsAvailable bool   `json:"isAvailable"`
}

func (r *Resource) Validate() error {
	var c checks
	c.required("name", r.Name)
	c.oneOf("type", r.Type, ResourceTypes)
	if r.Capacity != nil && *r.Capacity < 0 {
		c.add("capacity", "capacity must not be negative")
	}
	return c.err("resource")
}

// ResourceBooking reserves a resource for [StartDate, EndDate).
type ResourceBooking struct {
	Base
	ResourceID string    `json:"resourceId"`
	MemberID   string    `json:"memberId"`
	Title      string    `json:"title"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	Attendees  []string  `json:"attendees,omitempty"`
	Status     string    `json:"status"`
}

func (b *ResourceBooking) Validate() error {
	var c checks
	c.required("resourceId", b.ResourceID)
	c.required("memberId", b.MemberID)
	c.required("title", b.Title)
	c.date("startDate", b.StartDate)
	c.date("endDate", b.EndDate)
	if !b.StartDate.IsZero() && !b.EndDate.IsZero() && !b.EndDate.After(b.StartDate) {
		c.add("endDate", "endDate must be after startDate")
	}
	c.oneOf("status", b.Status, BookingStatuses)
	return c.err("resourceBooking")
}

// Active reports whether the booking holds its slot.
func (b *ResourceBooking) Active() bool {
	return b.Status != BookingCancelled
}
