package viewport

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"pagescope/internal/domain"
	"pagescope/internal/util"
)

// edgeLabelLayout labels the first and last day of a month view so the
// reader can tell which month is shown.
const edgeLabelLayout = "Jan 2, 2006"

// MonthContext identifies the calendar month shown at maximum zoom.
type MonthContext struct {
	Year  int
	Month time.Month
}

func (m MonthContext) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// MonthView is a day-granular slice covering one whole calendar month. Days
// without a record carry domain.Absent in every series.
type MonthView struct {
	Context MonthContext
	Days    []time.Time
	Labels  []string
	Series  []domain.Series

	// Start and End bound the dataset records that fall inside the month.
	Start, End int
}

// MonthResolver builds month views from sorted records.
type MonthResolver struct {
	cal *util.Calendar
}

// NewMonthResolver creates a resolver on the given calendar.
func NewMonthResolver(cal *util.Calendar) *MonthResolver {
	if cal == nil {
		cal = util.NewCalendar(nil)
	}
	return &MonthResolver{cal: cal}
}

// ContextOf returns the month containing records[idx].
func (r *MonthResolver) ContextOf(records []domain.Record, idx int) MonthContext {
	y, m := r.cal.YearMonth(records[idx].Timestamp)
	return MonthContext{Year: y, Month: m}
}

// Bounds returns midnight of the first and last day of the month.
func (r *MonthResolver) Bounds(ctx MonthContext) (time.Time, time.Time) {
	return r.cal.MonthBounds(ctx.Year, ctx.Month)
}

// Resolve builds the view for ctx. One point is emitted per calendar day.
func (r *MonthResolver) Resolve(records []domain.Record, metrics []domain.MetricKey, ctx MonthContext) *MonthView {
	days := r.cal.MonthDays(ctx.Year, ctx.Month)
	first := days[0]
	next := days[len(days)-1].AddDate(0, 0, 1)

	lo := sort.Search(len(records), func(i int) bool {
		return !records[i].Timestamp.Before(first)
	})
	hi := sort.Search(len(records), func(i int) bool {
		return !records[i].Timestamp.Before(next)
	})

	// First record of each day wins.
	byDay := make([]int, len(days))
	for i := range byDay {
		byDay[i] = -1
	}
	for i := lo; i < hi; i++ {
		d := r.cal.DayOf(records[i].Timestamp).Day() - 1
		if d >= 0 && d < len(byDay) && byDay[d] < 0 {
			byDay[d] = i
		}
	}

	view := &MonthView{
		Context: ctx,
		Days:    days,
		Labels:  make([]string, len(days)),
		Series:  make([]domain.Series, len(metrics)),
		Start:   lo,
		End:     hi,
	}
	for i, day := range days {
		if i == 0 || i == len(days)-1 {
			view.Labels[i] = day.Format(edgeLabelLayout)
		} else {
			view.Labels[i] = strconv.Itoa(day.Day())
		}
	}
	for s, key := range metrics {
		values := make([]domain.Value, len(days))
		for i, idx := range byDay {
			if idx < 0 {
				continue
			}
			if v, ok := records[idx].Metrics[key]; ok {
				values[i] = domain.Present(v)
			}
		}
		view.Series[s] = domain.Series{Metric: key, Values: values}
	}
	return view
}

// IndexAtDay maps a day offset inside the view to the nearest dataset
// record in the month.
func (v *MonthView) IndexAtDay(records []domain.Record, day int) int {
	if v.End <= v.Start {
		return v.Start
	}
	day = clampInt(day, 0, len(v.Days)-1)
	target := v.Days[day]
	i := v.Start + sort.Search(v.End-v.Start, func(i int) bool {
		return !records[v.Start+i].Timestamp.Before(target)
	})
	if i >= v.End {
		return v.End - 1
	}
	if i > v.Start && target.Sub(records[i-1].Timestamp) < records[i].Timestamp.Sub(target) {
		return i - 1
	}
	return i
}
