package reconcile

import (
	"time"

	"github.com/vovakirdan/trekchat/internal/store"
)

// Labels for the two relative date groups.
const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"
)

// DateGroup is a run of consecutive messages sharing a calendar day.
type DateGroup struct {
	Label    string
	Day      time.Time // midnight in the display location
	Messages []store.Message
}

// Group splits an already reconciled sequence into calendar-day groups in
// loc (UTC when nil). It does not reorder messages.
func (r Reconciler) Group(messages []store.Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}
	today := midnight(r.now(), loc)
	yesterday := today.AddDate(0, 0, -1)

	var groups []DateGroup
	for _, msg := range messages {
		day := midnight(r.EffectiveTime(msg), loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, msg)
			continue
		}

		label := day.Format("2 January 2006")
		switch {
		case day.Equal(today):
			label = LabelToday
		case day.Equal(yesterday):
			label = LabelYesterday
		}
		groups = append(groups, DateGroup{Label: label, Day: day, Messages: []store.Message{msg}})
	}
	return groups
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
