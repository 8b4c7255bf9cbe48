// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dissonance

import (
	"math"
	"slices"
	"sort"
	"sync"
)

// CostFunc scores a set of notes sounding at a timestamp. Lower is smoother.
type CostFunc func(notes []int, timestamp float64) float64

// Event is one chord held in short-term memory.
type Event struct {
	Notes      []int   `json:"notes"`
	Onset      float64 `json:"onset"`
	Dissonance float64 `json:"dissonance"`
}

// STMParams tunes the stateless memory model.
type STMParams struct {
	MemoryWeight float64
	MemorySpan   float64
	Partials     int
}

// DefaultSTMParams returns weight 1, span 3 and 10 partials.
func DefaultSTMParams() STMParams {
	return STMParams{MemoryWeight: 1, MemorySpan: 3, Partials: 10}
}

// Process scores notes at onset against a memory of earlier chords.
//
// # Description
//
// Each remembered chord at Δt = onset - its onset contributes
// w·(d(merged) - d(current) - d(past)), where
// w = weight · (2 - ½ln(Δt+1) - ½ln(len(memory)+1)) · e^{-Δt/span}.
// Chords in the future or with non-positive activation are forgotten.
//
// # Outputs
//
//   - float64: d(current) plus the memory interference.
//   - []Event: The surviving memory with the current chord appended.
func Process(notes []int, onset float64, memory []Event, p STMParams) (float64, []Event) {
	current := ChordDissonance(notes, p.Partials)
	nc := float64(len(memory))

	total := 0.0
	next := make([]Event, 0, len(memory)+1)
	for _, ev := range memory {
		dt := onset - ev.Onset
		if dt < 0 {
			continue
		}
		activation := 2 - 0.5*math.Log(dt+1) - 0.5*math.Log(nc+1)
		if activation <= 0 {
			continue
		}
		w := p.MemoryWeight * activation * math.Exp(-dt/p.MemorySpan)

		merged := append(slices.Clone(notes), ev.Notes...)
		interference := ChordDissonance(merged, p.Partials) - current - ev.Dissonance
		total += w * interference

		next = append(next, ev)
	}
	next = append(next, Event{Notes: slices.Clone(notes), Onset: onset, Dissonance: current})
	return current + total, next
}

// STMConfig configures an STM.
type STMConfig struct {
	MemorySpan     float64 `yaml:"memory_span" validate:"gt=0"`
	MemoryWeight   float64 `yaml:"memory_weight" validate:"gte=0"`
	Partials       int     `yaml:"partials" validate:"gte=1,lte=32"`
	AmpProfile     float64 `yaml:"amp_profile" validate:"gt=0,lte=1"`
	PruneThreshold float64 `yaml:"prune_threshold" validate:"gte=0,lt=1"`
}

// DefaultSTMConfig returns span 1.5, weight 1, 8 partials decaying by 0.88
// and a prune threshold of 0.01.
func DefaultSTMConfig() STMConfig {
	return STMConfig{
		MemorySpan:     1.5,
		MemoryWeight:   1,
		Partials:       8,
		AmpProfile:     ExpDecay,
		PruneThreshold: 0.01,
	}
}

// VoicedEvent is a remembered chord with per-note amplitudes.
type VoicedEvent struct {
	Onset   float64   `json:"onset"`
	Notes   []int     `json:"notes"`
	Amps    []float64 `json:"amps"`
	Current float64   `json:"current"`
}

// STM is a stateful short-term memory of voiced chords.
//
// # Description
//
// Evaluate scores a chord without remembering it; Commit scores it, drops
// events whose weight has decayed below the prune threshold and remembers
// the chord.
//
// # Thread Safety
//
// Safe for concurrent use.
type STM struct {
	mu     sync.Mutex
	cfg    STMConfig
	model  Model
	memory []VoicedEvent
}

// NewSTM creates an empty memory.
func NewSTM(cfg STMConfig) *STM {
	if cfg.MemorySpan <= 0 {
		cfg.MemorySpan = DefaultSTMConfig().MemorySpan
	}
	if cfg.Partials <= 0 {
		cfg.Partials = DefaultSTMConfig().Partials
	}
	return &STM{cfg: cfg, model: Sethares1993{}}
}

// Evaluate scores MIDI notes with amplitudes at onset.
func (s *STM) Evaluate(notes []int, amps []float64, onset float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.current(notes, amps)
	return current + s.interference(notes, amps, onset, current)
}

// Commit scores the chord and remembers it.
func (s *STM) Commit(notes []int, amps []float64, onset float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.current(notes, amps)
	total := current + s.interference(notes, amps, onset, current)

	s.memory = slices.DeleteFunc(s.memory, func(ev VoicedEvent) bool {
		dt := onset - ev.Onset
		return dt < 0 || math.Exp(-dt/s.cfg.MemorySpan) < s.cfg.PruneThreshold
	})
	s.memory = append(s.memory, VoicedEvent{
		Onset:   onset,
		Notes:   slices.Clone(notes),
		Amps:    slices.Clone(amps),
		Current: current,
	})
	return total
}

// Memory returns a copy of the remembered events.
func (s *STM) Memory() []VoicedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VoicedEvent, len(s.memory))
	for i, ev := range s.memory {
		out[i] = VoicedEvent{
			Onset:   ev.Onset,
			Notes:   slices.Clone(ev.Notes),
			Amps:    slices.Clone(ev.Amps),
			Current: ev.Current,
		}
	}
	return out
}

// CostFunc adapts Evaluate to unit-amplitude note sets.
func (s *STM) CostFunc() CostFunc {
	return func(notes []int, timestamp float64) float64 {
		amps := make([]float64, len(notes))
		for i := range amps {
			amps[i] = 1
		}
		return s.Evaluate(notes, amps, timestamp)
	}
}

// OrderPitchClasses sorts pitch classes by the roughness each produces when
// every stream plays it alone, roughest first.
func (s *STM) OrderPitchClasses(pitchClasses []int, octaves []int, vols []float64, onset float64) []int {
	type scored struct {
		pc int
		d  float64
	}
	ranked := make([]scored, len(pitchClasses))
	for i, pc := range pitchClasses {
		chords := make([][]int, len(octaves))
		for st := range chords {
			chords[st] = []int{pc}
		}
		notes, amps := VoiceChords(octaves, vols, chords)
		ranked[i] = scored{pc: pc, d: s.Evaluate(notes, amps, onset)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].d > ranked[j].d })

	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.pc
	}
	return out
}

// RoughnessForCombo voices a pitch-class combination across streams and
// scores it. Each stream takes the first chordSizes[s] classes in roughness
// order, clamped to [1, len(combo)].
func (s *STM) RoughnessForCombo(combo []int, chordSizes []int, octaves []int, vols []float64, onset float64) (float64, [][]int) {
	ordered := s.OrderPitchClasses(combo, octaves, vols, onset)

	chords := make([][]int, len(chordSizes))
	for st, cs := range chordSizes {
		cs = max(cs, 1)
		cs = min(cs, len(ordered))
		chords[st] = slices.Clone(ordered[:cs])
	}
	notes, amps := VoiceChords(octaves, vols, chords)
	return s.Evaluate(notes, amps, onset), chords
}

// VoiceChords places per-stream pitch classes in their octaves and splits
// each stream's volume evenly across its notes.
func VoiceChords(octaves []int, vols []float64, chords [][]int) ([]int, []float64) {
	var notes []int
	var amps []float64
	for st, oct := range octaves {
		if st >= len(chords) || len(chords[st]) == 0 {
			continue
		}
		v := 0.0
		if st < len(vols) {
			v = vols[st]
		}
		each := v / float64(len(chords[st]))
		base := BaseCMidi(oct)
		for _, pc := range chords[st] {
			notes = append(notes, base+((pc%12)+12)%12)
			amps = append(amps, each)
		}
	}
	return notes, amps
}

func (s *STM) current(notes []int, amps []float64) float64 {
	if len(notes) < 2 || len(notes) != len(amps) {
		return 0
	}
	var freqs, partialAmps []float64
	for i, n := range notes {
		a := amps[i]
		if a <= AmpEpsilon {
			continue
		}
		f0 := MidiToFreq(float64(n))
		for p := 1; p <= s.cfg.Partials; p++ {
			freqs = append(freqs, f0*float64(p))
			partialAmps = append(partialAmps, a*math.Pow(s.cfg.AmpProfile, float64(p)))
		}
	}
	if len(freqs) < 2 {
		return 0
	}
	d, err := Dissonance(freqs, partialAmps, s.model)
	if err != nil {
		return 0
	}
	return d
}

func (s *STM) interference(notes []int, amps []float64, onset, current float64) float64 {
	total := 0.0
	for _, ev := range s.memory {
		dt := onset - ev.Onset
		if dt < 0 {
			continue
		}
		w := math.Exp(-dt / s.cfg.MemorySpan)
		if w < s.cfg.PruneThreshold {
			continue
		}
		merged := s.current(append(slices.Clone(notes), ev.Notes...), append(slices.Clone(amps), ev.Amps...))
		total += w * s.cfg.MemoryWeight * (merged - current - ev.Current)
	}
	return total
}
