package signals

import (
	"sort"
	"time"

	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/graph"
)

// Detector trigger thresholds. These are the documented trigger conditions;
// each detector exposes them as fields so tests and tuning can override.
const (
	DefaultEditWindow    = 5 * time.Minute
	DefaultEditThreshold = 3

	DefaultPauseThreshold = 30 * time.Second

	DefaultCycleThreshold = 2

	DefaultSwitchWindow    = 2 * time.Minute
	DefaultSwitchThreshold = 5

	// DefaultUnfamiliarConfidence is the fixed confidence of the
	// unfamiliar-symbol variant of frequent_search.
	DefaultUnfamiliarConfidence = 0.7

	DefaultContextSwitchThreshold = 3
)

// RepeatedEdits fires when the same concept is edited more than Threshold
// times within Window: confidence min(1, (count-Threshold)/3).
type RepeatedEdits struct {
	Window    time.Duration
	Threshold int
}

// NewRepeatedEdits creates the detector with the documented defaults
// (> 3 edits to the same node within 5 minutes).
func NewRepeatedEdits() *RepeatedEdits {
	return &RepeatedEdits{Window: DefaultEditWindow, Threshold: DefaultEditThreshold}
}

func (d *RepeatedEdits) Type() Type { return TypeRepeatedEdits }

func (d *RepeatedEdits) Detect(window []events.Event, now time.Time) ([]Signal, error) {
	cutoff := now.Add(-d.Window)
	counts := make(map[graph.NodeID]int)
	for _, ev := range window {
		if ev.Type != events.TypeEdit || ev.Timestamp.Before(cutoff) {
			continue
		}
		for _, ref := range ev.Nodes {
			counts[ref.ID]++
		}
	}

	var out []Signal
	for id, count := range counts {
		if count <= d.Threshold {
			continue
		}
		out = append(out, Signal{
			Type:        TypeRepeatedEdits,
			Confidence:  clampConfidence(float64(count-d.Threshold) / 3),
			Nodes:       []graph.NodeID{id},
			Measurement: float64(count),
		})
	}
	sortSignals(out)
	return out, nil
}

// LongPause fires on a dwell of at least Threshold on a node whose file
// remains open: confidence min(1, (dwellSec-30)/30). The collector contract
// is that dwell events are only reported while the file is open and no
// keystrokes occur, so the detector only inspects the measured duration.
type LongPause struct {
	Threshold time.Duration
}

// NewLongPause creates the detector with the documented 30s threshold.
func NewLongPause() *LongPause {
	return &LongPause{Threshold: DefaultPauseThreshold}
}

func (d *LongPause) Type() Type { return TypeLongPause }

func (d *LongPause) Detect(window []events.Event, now time.Time) ([]Signal, error) {
	// Longest qualifying dwell per node wins; one signal per node.
	longest := make(map[graph.NodeID]time.Duration)
	for _, ev := range window {
		if ev.Type != events.TypeDwell || ev.Duration < d.Threshold {
			continue
		}
		for _, ref := range ev.Nodes {
			if ev.Duration > longest[ref.ID] {
				longest[ref.ID] = ev.Duration
			}
		}
	}

	var out []Signal
	for id, dwell := range longest {
		sec := dwell.Seconds()
		out = append(out, Signal{
			Type:        TypeLongPause,
			Confidence:  clampConfidence((sec - d.Threshold.Seconds()) / 30),
			Nodes:       []graph.NodeID{id},
			Measurement: sec,
		})
	}
	sortSignals(out)
	return out, nil
}

// ErrorCycle fires on repeated error→fix→error sequences at the same
// diagnostic location: confidence min(1, (cycles-2)/2).
//
// A cycle is counted each time a diagnostic reappears at a location after an
// intervening edit touched one of the concepts the diagnostic implicated -
// the "fix" that didn't fix it.
type ErrorCycle struct {
	Threshold int
}

// NewErrorCycle creates the detector with the documented ≥ 2 cycle trigger.
func NewErrorCycle() *ErrorCycle {
	return &ErrorCycle{Threshold: DefaultCycleThreshold}
}

func (d *ErrorCycle) Type() Type { return TypeErrorCycle }

type cycleState struct {
	nodes        map[graph.NodeID]struct{}
	fixAttempted bool
	cycles       int
}

func (d *ErrorCycle) Detect(window []events.Event, now time.Time) ([]Signal, error) {
	states := make(map[string]*cycleState)

	for _, ev := range window {
		switch ev.Type {
		case events.TypeDiagnostic:
			if ev.Location == "" {
				continue
			}
			st := states[ev.Location]
			if st == nil {
				st = &cycleState{nodes: make(map[graph.NodeID]struct{})}
				states[ev.Location] = st
			} else if st.fixAttempted {
				st.cycles++
				st.fixAttempted = false
			}
			for _, ref := range ev.Nodes {
				st.nodes[ref.ID] = struct{}{}
			}
		case events.TypeEdit:
			for _, st := range states {
				if st.fixAttempted {
					continue
				}
				for _, ref := range ev.Nodes {
					if _, ok := st.nodes[ref.ID]; ok {
						st.fixAttempted = true
						break
					}
				}
			}
		}
	}

	var out []Signal
	for _, st := range states {
		if st.cycles < d.Threshold {
			continue
		}
		nodes := make([]graph.NodeID, 0, len(st.nodes))
		for id := range st.nodes {
			nodes = append(nodes, id)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		out = append(out, Signal{
			Type:        TypeErrorCycle,
			Confidence:  clampConfidence(float64(st.cycles-d.Threshold) / 2),
			Nodes:       nodes,
			Measurement: float64(st.cycles),
		})
	}
	sortSignals(out)
	return out, nil
}

// FrequentSearch fires on either of two variants:
//
//  1. A search query touching an API/symbol not previously recorded in the
//     user's graph: fixed confidence 0.7.
//  2. More than SwitchThreshold distinct file switches within SwitchWindow:
//     confidence min(1, (switches-5)/5).
//
// Known is the read-only concept-identity probe (typically Graph.HasNode on
// a consistent snapshot); a nil Known disables the unfamiliar-symbol variant.
type FrequentSearch struct {
	SwitchWindow         time.Duration
	SwitchThreshold      int
	UnfamiliarConfidence float64
	Known                func(graph.NodeID) bool
}

// NewFrequentSearch creates the detector with documented defaults and the
// given known-concept probe.
func NewFrequentSearch(known func(graph.NodeID) bool) *FrequentSearch {
	return &FrequentSearch{
		SwitchWindow:         DefaultSwitchWindow,
		SwitchThreshold:      DefaultSwitchThreshold,
		UnfamiliarConfidence: DefaultUnfamiliarConfidence,
		Known:                known,
	}
}

func (d *FrequentSearch) Type() Type { return TypeFrequentSearch }

func (d *FrequentSearch) Detect(window []events.Event, now time.Time) ([]Signal, error) {
	var out []Signal

	// Variant 1: searches for symbols the graph has never seen.
	if d.Known != nil {
		unknown := make(map[graph.NodeID]struct{})
		for _, ev := range window {
			if ev.Type != events.TypeSearch {
				continue
			}
			for _, ref := range ev.Nodes {
				if !d.Known(ref.ID) {
					unknown[ref.ID] = struct{}{}
				}
			}
		}
		if len(unknown) > 0 {
			nodes := make([]graph.NodeID, 0, len(unknown))
			for id := range unknown {
				nodes = append(nodes, id)
			}
			sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
			out = append(out, Signal{
				Type:        TypeFrequentSearch,
				Confidence:  d.UnfamiliarConfidence,
				Nodes:       nodes,
				Measurement: float64(len(nodes)),
			})
		}
	}

	// Variant 2: rapid distinct file switches.
	cutoff := now.Add(-d.SwitchWindow)
	targets := make(map[graph.NodeID]struct{})
	for _, ev := range window {
		if ev.Type != events.TypeFileSwitch || ev.Timestamp.Before(cutoff) {
			continue
		}
		for _, ref := range ev.Nodes {
			targets[ref.ID] = struct{}{}
		}
	}
	if n := len(targets); n > d.SwitchThreshold {
		nodes := make([]graph.NodeID, 0, n)
		for id := range targets {
			nodes = append(nodes, id)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		out = append(out, Signal{
			Type:        TypeFrequentSearch,
			Confidence:  clampConfidence(float64(n-d.SwitchThreshold) / 5),
			Nodes:       nodes,
			Measurement: float64(n),
		})
	}
	return out, nil
}

// ContextSwitching fires on rapid alternation between at least
// NodeThreshold mutually unrelated concepts within Window: confidence
// min(1, (switchCount-3)/3).
//
// Distinct from frequent_search by design: a switch only counts here when
// the two concepts share no dependency edge, so bouncing around one
// subsystem does not fire, but bouncing between disconnected subsystems
// does. Related is the read-only relatedness probe (typically
// Graph.Related).
type ContextSwitching struct {
	Window        time.Duration
	NodeThreshold int
	Related       func(a, b graph.NodeID) bool
}

// NewContextSwitching creates the detector with documented defaults and the
// given relatedness probe.
func NewContextSwitching(related func(a, b graph.NodeID) bool) *ContextSwitching {
	return &ContextSwitching{
		Window:        DefaultSwitchWindow,
		NodeThreshold: DefaultContextSwitchThreshold,
		Related:       related,
	}
}

func (d *ContextSwitching) Type() Type { return TypeContextSwitching }

func (d *ContextSwitching) Detect(window []events.Event, now time.Time) ([]Signal, error) {
	if d.Related == nil {
		return nil, nil
	}

	// Focus sequence: the first concept of each edit/switch event in the
	// window, with consecutive repeats collapsed.
	cutoff := now.Add(-d.Window)
	var focus []graph.NodeID
	for _, ev := range window {
		if ev.Timestamp.Before(cutoff) || len(ev.Nodes) == 0 {
			continue
		}
		if ev.Type != events.TypeEdit && ev.Type != events.TypeFileSwitch {
			continue
		}
		id := ev.Nodes[0].ID
		if len(focus) == 0 || focus[len(focus)-1] != id {
			focus = append(focus, id)
		}
	}

	switchCount := 0
	involved := make(map[graph.NodeID]struct{})
	for i := 1; i < len(focus); i++ {
		if d.Related(focus[i-1], focus[i]) {
			continue
		}
		switchCount++
		involved[focus[i-1]] = struct{}{}
		involved[focus[i]] = struct{}{}
	}

	confidence := clampConfidence(float64(switchCount-d.NodeThreshold) / 3)
	if len(involved) < d.NodeThreshold || confidence == 0 {
		return nil, nil
	}

	nodes := make([]graph.NodeID, 0, len(involved))
	for id := range involved {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return []Signal{{
		Type:        TypeContextSwitching,
		Confidence:  confidence,
		Nodes:       nodes,
		Measurement: float64(switchCount),
	}}, nil
}

// sortSignals orders signals deterministically (by first implicated node)
// so a given window snapshot always reproduces the same output.
func sortSignals(s []Signal) {
	sort.Slice(s, func(i, j int) bool {
		var a, b graph.NodeID
		if len(s[i].Nodes) > 0 {
			a = s[i].Nodes[0]
		}
		if len(s[j].Nodes) > 0 {
			b = s[j].Nodes[0]
		}
		return a < b
	})
}
