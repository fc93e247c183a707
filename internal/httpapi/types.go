// Package httpapi provides the HTTP REST API for pagescope: the shared date
// range, per-chart viewport control and the summary metrics over the
// current range.
package httpapi

import (
	"math"

	"pagescope/internal/broker"
	"pagescope/internal/dashboard"
	"pagescope/internal/domain"
	"pagescope/internal/viewport"
)

// RangeJSON is the JSON representation of a date range. Empty bounds mean
// all time.
type RangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label,omitempty"`
}

// RangeResponse reports the broker's view of the shared range.
type RangeResponse struct {
	Current   RangeJSON `json:"current"`
	Committed RangeJSON `json:"committed"`
	Phase     string    `json:"phase"`
}

// ChartsResponse lists chart ids and the active one.
type ChartsResponse struct {
	Charts []string `json:"charts"`
	Active string   `json:"active"`
}

// SeriesJSON is one metric of a visible slice. Absent values are null.
type SeriesJSON struct {
	Metric string     `json:"metric"`
	Values []*float64 `json:"values"`
}

// ChartResponse is a chart's view state and visible slice.
type ChartResponse struct {
	ID           string       `json:"id"`
	ZoomLevel    float64      `json:"zoomLevel"`
	CenterRatio  float64      `json:"centerRatio"`
	PanOffset    float64      `json:"panOffset"`
	VisibleStart int          `json:"visibleStart"`
	VisibleEnd   int          `json:"visibleEnd"`
	Length       int          `json:"length"`
	Month        string       `json:"month,omitempty"`
	Range        *RangeJSON   `json:"range,omitempty"`
	Labels       []string     `json:"labels"`
	Series       []SeriesJSON `json:"series"`
	Redraws      int          `json:"redraws"`
	LastRedraw   string       `json:"lastRedraw,omitempty"`
}

// ZoomRequest is the body of POST /api/charts/{id}/zoom. Exactly one of
// Delta or Level is expected; Pointer anchors the zoom when set.
type ZoomRequest struct {
	Delta   *float64 `json:"delta,omitempty"`
	Level   *float64 `json:"level,omitempty"`
	Pointer *float64 `json:"pointer,omitempty"`
}

// PanResponse reports whether a pan moved the window.
type PanResponse struct {
	Moved bool `json:"moved"`
}

// MetricJSON is the JSON representation of one summary metric.
type MetricJSON struct {
	Metric    string  `json:"metric"`
	Points    int     `json:"points"`
	Value     float64 `json:"value"`
	Formatted string  `json:"formatted"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	MaxRise   float64 `json:"maxRise"`
	MaxDrop   float64 `json:"maxDrop"`
	Change    string  `json:"change,omitempty"` // vs the previous period of equal length
}

// SummaryResponse is the response for GET /api/summary.
type SummaryResponse struct {
	Range     string       `json:"range"`
	Points    int          `json:"points"`
	SortMode  int          `json:"sortMode"`
	SortLabel string       `json:"sortLabel"`
	Metrics   []MetricJSON `json:"metrics"`
}

// DatasetsResponse lists the datasets the source can load.
type DatasetsResponse struct {
	Active   string   `json:"active"`
	Datasets []string `json:"datasets"`
}

func convertRange(r domain.DateRange) RangeJSON {
	out := RangeJSON{Label: r.String()}
	if !r.IsZero() {
		out.Start = r.Start.Format(domain.DateLayout)
		out.End = r.End.Format(domain.DateLayout)
	}
	return out
}

func convertRangeResponse(b *broker.Broker) RangeResponse {
	return RangeResponse{
		Current:   convertRange(b.CurrentRange()),
		Committed: convertRange(b.CommittedRange()),
		Phase:     b.Phase().String(),
	}
}

func convertChart(c *viewport.Controller, rec *Recorder) ChartResponse {
	st := c.State()
	out := ChartResponse{
		ID:           c.ID(),
		ZoomLevel:    st.ZoomLevel,
		CenterRatio:  st.ZoomCenterRatio,
		PanOffset:    st.PanOffsetRatio,
		VisibleStart: st.VisibleStart,
		VisibleEnd:   st.VisibleEnd,
		Length:       st.DatasetLength,
	}
	if st.Month != nil {
		out.Month = st.Month.String()
	}
	if r, ok := c.ResolveVisibleDateRange(); ok {
		rj := convertRange(r)
		out.Range = &rj
	}

	var labels []string
	var series []domain.Series
	if rec != nil {
		frame := rec.Last()
		labels, series = frame.Labels, frame.Series
		out.Redraws = frame.Redraws
		if frame.Redraws > 0 {
			out.LastRedraw = frame.Mode.String()
		}
	} else {
		sl := c.VisibleSlice()
		labels, series = sl.Labels, sl.Series
	}
	out.Labels = labels
	if out.Labels == nil {
		out.Labels = []string{}
	}
	out.Series = convertSeries(series)
	return out
}

func convertSeries(series []domain.Series) []SeriesJSON {
	out := make([]SeriesJSON, len(series))
	for i, s := range series {
		vals := make([]*float64, len(s.Values))
		for j, v := range s.Values {
			if v.Valid && !math.IsNaN(v.Number) && !math.IsInf(v.Number, 0) {
				n := v.Number
				vals[j] = &n
			}
		}
		out[i] = SeriesJSON{Metric: string(s.Metric), Values: vals}
	}
	return out
}

func convertSummary(cur, prev dashboard.Summary, mode int) SummaryResponse {
	sorted := cur.Sorted(mode)
	out := SummaryResponse{
		Range:     sorted.Label,
		Points:    sorted.Points,
		SortMode:  mode,
		SortLabel: dashboard.SortModeLabel(mode),
		Metrics:   make([]MetricJSON, 0, len(sorted.Metrics)),
	}
	for _, m := range sorted.Metrics {
		mj := MetricJSON{
			Metric:    string(m.Metric),
			Points:    m.Points,
			Value:     m.Value,
			Formatted: dashboard.FormatMetric(m.Metric, m.Value),
			Min:       m.Min,
			Max:       m.Max,
			MaxRise:   m.MaxRise,
			MaxDrop:   m.MaxDrop,
		}
		if p, ok := prev.Get(m.Metric); ok && p.Points > 0 {
			mj.Change = dashboard.FormatChange(dashboard.Change(m.Value, p.Value))
		}
		out.Metrics = append(out.Metrics, mj)
	}
	return out
}
