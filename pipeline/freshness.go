package pipeline

import (
	"time"

	"cloud.google.com/go/civil"

	"conversionupload/models"
)

// FreshnessGate decides whether a table was touched today. Table timestamps
// and "today" are both read as calendar dates in the same location.
type FreshnessGate struct {
	location *time.Location
	now      func() time.Time
}

func NewFreshnessGate(location *time.Location) *FreshnessGate {
	if location == nil {
		location = time.UTC
	}
	return &FreshnessGate{location: location, now: time.Now}
}

// Today returns the current calendar date in the gate's location.
func (g *FreshnessGate) Today() civil.Date {
	return civil.DateOf(g.now().In(g.location))
}

// IsFresh reports whether meta was created or modified today.
func (g *FreshnessGate) IsFresh(meta *models.TableMetadata) bool {
	if meta == nil {
		return false
	}
	return IsFresh(
		civil.DateOf(meta.Created.In(g.location)),
		civil.DateOf(meta.Modified.In(g.location)),
		g.Today(),
	)
}

// IsFresh compares calendar dates exactly; there is no tolerance window.
func IsFresh(created, modified, today civil.Date) bool {
	return modified == today || created == today
}
