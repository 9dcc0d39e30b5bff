package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"srules/internal/model"
)

const productID = "-//srules//schedule export//EN"

// Export renders the periods of a schedule as a VCALENDAR document. Event UIDs
// are derived from the schedule name and the period key, so a subscribed
// client sees the same UID for the same period across exports.
func Export(schedule string, periods []model.Period, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(schedule)

	for _, p := range periods {
		ev := cal.AddEvent(EventUID(schedule, p))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(p.Start)
		ev.SetEndAt(p.End)
		ev.SetSummary(schedule)
	}
	return cal.Serialize()
}

// EventUID is the stable iCalendar UID of a period.
func EventUID(schedule string, p model.Period) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("srules:"+schedule+"/"+p.InstanceKey)).String() + "@srules"
}
