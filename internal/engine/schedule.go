package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// ParseShuffleTimestamp parses a shuffle-point timestamp of the form
// `SS`, `MM:SS` or `HH:MM:SS`, with an optional decimal-seconds
// component, into milliseconds rounded to the nearest integer.
// Malformed input returns an error so the caller can log and skip it
// instead of failing the whole schedule.
func ParseShuffleTimestamp(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("engine: timestamp %q must have 1-3 colon-separated parts", s)
	}

	var hours, minutes int
	secondsStr := parts[len(parts)-1]
	if len(parts) == 3 {
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("engine: bad hours in %q: %w", s, err)
		}
		hours = h
	}
	if len(parts) >= 2 {
		m, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			return 0, fmt.Errorf("engine: bad minutes in %q: %w", s, err)
		}
		minutes = m
	}

	seconds, err := strconv.ParseFloat(secondsStr, 64)
	if err != nil {
		return 0, fmt.Errorf("engine: bad seconds in %q: %w", s, err)
	}
	if hours < 0 || minutes < 0 || seconds < 0 {
		return 0, fmt.Errorf("engine: timestamp %q must not be negative", s)
	}

	totalSeconds := float64(hours*3600+minutes*60) + seconds
	return int64(totalSeconds*1000 + 0.5), nil
}

// ScheduleModel expands track definitions into concurrent slots and
// produces the timestamp-ordered sequence of full-slot snapshots the
// mix scheduler consumes as its runtime plan.
type ScheduleModel struct {
	defs    []*TrackDef
	slotDef []int // slot index -> index into defs
	entries []ScheduleEntry
}

// BuildSchedule expands defs into slots (one per SelectionsCount) and
// draws a source for every slot at every timestamp where that slot's
// track definition names a shuffle point (0 always included). Draws
// are uniform with replacement, seeded by rngSeed so identical inputs
// and seed always yield the identical schedule.
func BuildSchedule(defs []*TrackDef, rngSeed int64) *ScheduleModel {
	sm := &ScheduleModel{defs: defs}

	for i, def := range defs {
		count := def.SelectionsCount
		if count < 1 {
			count = 1
		}
		for j := 0; j < count; j++ {
			sm.slotDef = append(sm.slotDef, i)
		}
	}

	timestamps := map[int64]struct{}{0: {}}
	for _, def := range defs {
		for _, ms := range def.ShuffleMs {
			timestamps[ms] = struct{}{}
		}
	}
	sorted := make([]int64, 0, len(timestamps))
	for ms := range timestamps {
		sorted = append(sorted, ms)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rng := rand.New(rand.NewSource(rngSeed))
	current := make([]SourceSpec, len(sm.slotDef))

	for _, ts := range sorted {
		for slot, defIdx := range sm.slotDef {
			def := defs[defIdx]
			if ts != 0 && !containsMs(def.ShuffleMs, ts) {
				continue
			}
			current[slot] = drawCandidate(def, rng)
		}
		snapshot := make([]SourceSpec, len(current))
		copy(snapshot, current)
		sm.entries = append(sm.entries, ScheduleEntry{AtMs: ts, Sources: snapshot})
	}

	return sm
}

func containsMs(points []int64, ms int64) bool {
	for _, p := range points {
		if p == ms {
			return true
		}
	}
	return false
}

func drawCandidate(def *TrackDef, rng *rand.Rand) SourceSpec {
	if len(def.Candidates) == 0 {
		return SourceSpec{}
	}
	return def.Candidates[rng.Intn(len(def.Candidates))]
}

// RuntimePlan derives the source list in force at startMs and every
// later shuffle event still ahead of it.
func (sm *ScheduleModel) RuntimePlan(startMs int64) RuntimePlan {
	if len(sm.entries) == 0 {
		return RuntimePlan{}
	}

	idx := 0
	for i, e := range sm.entries {
		if e.AtMs <= startMs {
			idx = i
		} else {
			break
		}
	}

	plan := RuntimePlan{
		Current: append([]SourceSpec(nil), sm.entries[idx].Sources...),
	}
	if idx+1 < len(sm.entries) {
		plan.Upcoming = append([]ScheduleEntry(nil), sm.entries[idx+1:]...)
	}
	return plan
}

// SlotDef returns the track definition backing slot i.
func (sm *ScheduleModel) SlotDef(slot int) *TrackDef {
	return sm.defs[sm.slotDef[slot]]
}

// SlotCount is the number of expanded concurrent slots.
func (sm *ScheduleModel) SlotCount() int {
	return len(sm.slotDef)
}
