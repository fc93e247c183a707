package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"pagescope/internal/broker"
	"pagescope/internal/config"
	"pagescope/internal/dashboard"
	"pagescope/internal/domain"
	"pagescope/internal/store"
	"pagescope/internal/util"
	"pagescope/internal/viewport"
)

// Styles.
var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	sparkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type keyMap struct {
	Quit, Next, ZoomIn, ZoomOut, Left, Right, Reset, AllTime, Sort key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Next:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "chart")),
	ZoomIn:  key.NewBinding(key.WithKeys("+", "=", "up"), key.WithHelp("+", "zoom in")),
	ZoomOut: key.NewBinding(key.WithKeys("-", "down"), key.WithHelp("-", "zoom out")),
	Left:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "pan")),
	Right:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "pan")),
	Reset:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	AllTime: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all time")),
	Sort:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sort")),
}

func helpLine() string {
	var parts []string
	for _, b := range []key.Binding{keys.Quit, keys.Next, keys.ZoomIn, keys.ZoomOut, keys.Left, keys.Right, keys.Reset, keys.AllTime, keys.Sort} {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return " " + strings.Join(parts, "  ")
}

// Messages.
type redrawMsg string

type rangeMsg broker.Change

type model struct {
	broker    *broker.Broker
	charts    *viewport.Registry
	delegates map[string]*chartDelegate
	order     []string
	summary   *dashboard.Consumer
	redraws   <-chan string
	changes   <-chan broker.Change
	dataset   string
	log       *slog.Logger

	sortMode      int
	lastErr       string
	width, height int
}

func waitForRedraw(ch <-chan string) tea.Cmd {
	return func() tea.Msg { return redrawMsg(<-ch) }
}

func waitForRange(ch <-chan broker.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return rangeMsg(c)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForRedraw(m.redraws), waitForRange(m.changes))
}

func (m model) active() *viewport.Controller {
	c, _ := m.charts.Active()
	return c
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.lastErr = ""
		c := m.active()
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Next):
			m.cycleActive()
		case key.Matches(msg, keys.ZoomIn):
			m.setErr(c.OnZoomDelta(1, nil))
		case key.Matches(msg, keys.ZoomOut):
			m.setErr(c.OnZoomDelta(-1, nil))
		case key.Matches(msg, keys.Left):
			c.Pan(viewport.Left)
		case key.Matches(msg, keys.Right):
			c.Pan(viewport.Right)
		case key.Matches(msg, keys.Reset):
			c.ResetToDefault()
		case key.Matches(msg, keys.AllTime):
			m.broker.UpdateRange(domain.DateRange{}, broker.Explicit)
		case key.Matches(msg, keys.Sort):
			m.sortMode = (m.sortMode + 1) % dashboard.SortModeCount
		}

	case tea.MouseMsg:
		if m.width == 0 {
			break
		}
		ratio := float64(msg.X) / float64(m.width)
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			m.setErr(m.active().OnZoomDelta(1, &ratio))
		case tea.MouseButtonWheelDown:
			m.setErr(m.active().OnZoomDelta(-1, &ratio))
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case redrawMsg:
		return m, waitForRedraw(m.redraws)

	case rangeMsg:
		m.log.Debug("range committed", "range", msg.Range.String(), "origin", msg.Origin.String())
		return m, waitForRange(m.changes)
	}
	return m, nil
}

func (m *model) setErr(err error) {
	if err != nil {
		m.lastErr = err.Error()
	}
}

func (m *model) cycleActive() {
	cur := m.charts.ActiveID()
	for i, id := range m.order {
		if id == cur {
			m.charts.SetActive(m.order[(i+1)%len(m.order)])
			return
		}
	}
}

func (m model) View() string {
	if m.width == 0 {
		return "loading..."
	}
	var b strings.Builder

	header := fmt.Sprintf(" pagescope  %s    range: %s    phase: %s ",
		m.dataset, m.broker.DisplayText(), m.broker.Phase())
	b.WriteString(headerStyle.Render(padOrTrunc(header, m.width)))
	b.WriteString("\n\n")

	activeID := m.charts.ActiveID()
	for _, id := range m.order {
		b.WriteString(m.renderChart(id, id == activeID))
		b.WriteString("\n")
	}

	b.WriteString(m.renderSummary())
	if m.lastErr != "" {
		b.WriteString("\n" + errStyle.Render(" "+m.lastErr))
	}
	b.WriteString("\n" + footerStyle.Render(padOrTrunc(helpLine(), m.width)))
	return b.String()
}

func (m model) renderChart(id string, active bool) string {
	c, ok := m.charts.Get(id)
	if !ok {
		return ""
	}
	st := c.State()
	labels, values := m.delegates[id].snapshot()

	title := titleStyle.Render(id)
	if active {
		title = activeStyle.Render("▶ " + id)
	}
	info := fmt.Sprintf("  zoom %.2fx  [%d, %d) of %d", st.ZoomLevel, st.VisibleStart, st.VisibleEnd, st.DatasetLength)
	if st.Month != nil {
		info += "  month " + st.Month.String()
	}
	if v, ok := latest(values); ok {
		info += "  last " + dashboard.FormatMetric(domain.MetricKey(id), v)
	}

	var axis string
	if len(labels) > 0 {
		first, last := labels[0], labels[len(labels)-1]
		gap := m.width - len(first) - len(last) - 2
		if gap < 1 {
			gap = 1
		}
		axis = dimStyle.Render(" " + first + strings.Repeat(" ", gap) + last)
	}
	return title + dimStyle.Render(info) + "\n " + sparkStyle.Render(sparkline(values, m.width-2)) + "\n" + axis + "\n"
}

func (m model) renderSummary() string {
	if m.summary == nil {
		return ""
	}
	cur := m.summary.Summary().Sorted(m.sortMode)
	prev := m.summary.Previous()

	var b strings.Builder
	b.WriteString(titleStyle.Render(" summary") + dimStyle.Render(fmt.Sprintf("  %d days  sort: %s", cur.Points, dashboard.SortModeLabel(m.sortMode))))
	for _, ms := range cur.Metrics {
		line := fmt.Sprintf("\n   %-12s %10s", ms.Metric, dashboard.FormatMetric(ms.Metric, ms.Value))
		b.WriteString(line)
		if p, ok := prev.Get(ms.Metric); ok {
			ch := dashboard.Change(ms.Value, p.Value)
			// Lower is better for average position.
			good := ch > 0
			if ms.Metric == domain.MetricPosition {
				good = !good
			}
			style := lossStyle
			if good {
				style = gainStyle
			}
			b.WriteString(" " + style.Render(dashboard.FormatChange(ch)))
		}
	}
	return b.String()
}

func padOrTrunc(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config/pagescope.yaml", "config file (PAGESCOPE_CONFIG overrides)")
	csvPath := flag.String("csv", "", "read daily metrics from a CSV file instead of the configured store")
	dataset := flag.String("dataset", "", "dataset name (default from config)")
	flag.Parse()

	if p := os.Getenv("PAGESCOPE_CONFIG"); p != "" {
		*cfgPath = p
	}
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *dataset != "" {
		cfg.Dataset.Name = *dataset
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	logger := util.Discard()
	if cfg.Logging.File != "" {
		logger = util.NewLogger(cfg.Logging.Options())
	}

	records, name, err := loadRecords(cfg, *csvPath)
	if err != nil {
		log.Fatalf("loading dataset: %v", err)
	}
	if len(records) == 0 {
		log.Fatalf("dataset %s is empty", name)
	}

	b := broker.New(cfg.Sync, broker.WithLogger(logger), broker.WithStatePath(cfg.Storage.StatePath))
	defer b.Close()

	ids := cfg.Dataset.Charts
	if len(ids) == 0 {
		for _, k := range domain.MetricKeys(records) {
			ids = append(ids, string(k))
		}
	}
	if len(ids) > 2 {
		ids = ids[:2]
	}

	redraws := make(chan string, len(ids))
	delegates := make(map[string]*chartDelegate, len(ids))
	frameInterval := cfg.Dataset.FrameInterval
	if frameInterval <= 0 {
		frameInterval = 16 * time.Millisecond
	}
	charts := viewport.NewRegistry(cfg.Viewport,
		viewport.WithLogger(logger),
		viewport.WithSink(b),
		viewport.WithFrames(viewport.NewTimerFrames(frameInterval)),
		viewport.WithDelegateFactory(func(id string) viewport.RenderDelegate {
			d := newChartDelegate(id, redraws)
			delegates[id] = d
			return d
		}),
	)
	b.SetFollower(charts)
	for _, id := range ids {
		charts.GetOrCreate(id)
	}
	charts.SetDatasetAll(records)
	charts.ApplyExternalRange(b.CommittedRange(), "")

	summary := dashboard.NewConsumer(b, records, logger)
	defer summary.Close()

	watchID, changes := b.Watch(16)
	defer b.Unwatch(watchID)

	m := model{
		broker:    b,
		charts:    charts,
		delegates: delegates,
		order:     ids,
		summary:   summary,
		redraws:   redraws,
		changes:   changes,
		dataset:   name,
		log:       logger,
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadRecords(cfg *config.Config, csvPath string) ([]domain.Record, string, error) {
	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		records, err := store.ReadCSV(f)
		return records, csvPath, err
	}

	src, closer, err := store.Open(cfg)
	if err != nil {
		return nil, "", err
	}
	defer closer.Close()
	records, err := src.LoadDataset(context.Background(), cfg.Dataset.Name)
	return records, cfg.Dataset.Name, err
}
