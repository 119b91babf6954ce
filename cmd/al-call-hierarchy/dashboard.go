// # cmd/al-call-hierarchy/dashboard.go
package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/SShadowS/al-call-hierarchy/internal/al/graph"
	"github.com/SShadowS/al-call-hierarchy/internal/al/model"
	"github.com/SShadowS/al-call-hierarchy/internal/shared/util"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type dashboardModel struct {
	list         list.Model
	definitions  int
	externalDefs int
	callSites    int
	unusedCount  int
	topFanIn     []fanInEntry
	quality      qualityDist
}

// qualityDist buckets scored definitions: good is 8.0 and up, poor is
// below 5.0, fair is everything between.
type qualityDist struct {
	good, fair, poor int
}

func (q *qualityDist) add(score float64) {
	switch {
	case score >= 8.0:
		q.good++
	case score < 5.0:
		q.poor++
	default:
		q.fair++
	}
}

type fanInEntry struct {
	name  string
	count int
}

func (m dashboardModel) Init() tea.Cmd {
	return nil
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v-6)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m dashboardModel) View() string {
	status := statusStyle.Render(fmt.Sprintf("%d definitions (%d external) | %d call sites | heap %d MB",
		m.definitions, m.externalDefs, m.callSites, util.GetHeapAllocMB()))

	var summary string
	if m.unusedCount == 0 {
		summary = successStyle.Render("no unused procedures")
	} else {
		summary = warnStyle.Render(fmt.Sprintf("%d unused procedures", m.unusedCount))
	}

	quality := statusStyle.Render(fmt.Sprintf("quality: %d good / %d fair / %d poor",
		m.quality.good, m.quality.fair, m.quality.poor))

	header := fmt.Sprintf("%s\n%s | %s | %s\n", titleStyle("AL Call Hierarchy"), status, summary, quality)
	return docStyle.Render(header + "\n" + m.list.View())
}

// newDashboardModel builds the one-shot TUI snapshot shown by --no-lsp:
// unused procedures and the top fan-in procedures, ranked descending.
func newDashboardModel(g *graph.CallGraph) dashboardModel {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Findings"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)

	unused := g.UnusedProcedures()

	var fanIn []fanInEntry
	var quality qualityDist
	g.IterDefinitions(func(qn model.QualifiedName, d model.Definition) {
		if d.Metrics.QualityScore != nil {
			quality.add(*d.Metrics.QualityScore)
		}
		if d.Kind != model.DefinitionKindProcedure {
			return
		}
		n := g.IncomingCallCount(qn)
		if n == 0 {
			return
		}
		objectName, _ := g.Interner.Resolve(qn.Object)
		procName, _ := g.Interner.Resolve(qn.Procedure)
		fanIn = append(fanIn, fanInEntry{name: fmt.Sprintf("%s.%s", objectName, procName), count: n})
	})
	sort.Slice(fanIn, func(i, j int) bool { return fanIn[i].count > fanIn[j].count })
	if len(fanIn) > 20 {
		fanIn = fanIn[:20]
	}

	var items []list.Item
	for _, d := range unused {
		objectName, _ := g.Interner.Resolve(d.ObjectName)
		procName, _ := g.Interner.Resolve(d.Name)
		file := ""
		if d.File != nil {
			file = *d.File
		}
		items = append(items, item{
			title: fmt.Sprintf("unused: %s.%s", objectName, procName),
			desc:  file,
		})
	}
	for _, f := range fanIn {
		items = append(items, item{
			title: fmt.Sprintf("fan-in %d: %s", f.count, f.name),
			desc:  "",
		})
	}
	l.SetItems(items)

	return dashboardModel{
		list:         l,
		definitions:  g.DefinitionCount(),
		externalDefs: g.ExternalDefinitionCount(),
		callSites:    g.CallSiteCount(),
		unusedCount:  len(unused),
		topFanIn:     fanIn,
		quality:      quality,
	}
}
