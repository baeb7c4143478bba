package entitlement

import "time"

// LocationClock is the production Clock: wall time plus day boundaries in
// the application's configured IANA zone.
type LocationClock struct {
	loc *time.Location
}

func NewLocationClock(loc *time.Location) *LocationClock {
	return &LocationClock{loc: loc}
}

func (c *LocationClock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c *LocationClock) DayWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(c.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	return start, start.AddDate(0, 0, 1)
}
