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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSethares1993_Pair(t *testing.T) {
	m := Sethares1993{}

	assert.Equal(t, 0.0, m.Pair(440, 440, 1, 1), "unison partials do not beat")

	near := m.Pair(440, 466, 1, 1)
	far := m.Pair(440, 880, 1, 1)
	assert.Greater(t, near, far)
	assert.Greater(t, near, 0.0)

	assert.InDelta(t, near*0.25, m.Pair(440, 466, 0.5, 0.5), 1e-12)
}

func TestDissonance(t *testing.T) {
	t.Run("fewer than two partials", func(t *testing.T) {
		d, err := Dissonance([]float64{440}, []float64{1}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, d)
	})

	t.Run("quiet partials are dropped", func(t *testing.T) {
		d, err := Dissonance([]float64{440, 466}, []float64{1, 1e-9}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, d)
	})

	t.Run("order independent", func(t *testing.T) {
		a, err := Dissonance([]float64{440, 466, 523}, []float64{1, 0.8, 0.6}, nil)
		require.NoError(t, err)
		b, err := Dissonance([]float64{523, 440, 466}, []float64{0.6, 1, 0.8}, nil)
		require.NoError(t, err)
		assert.InDelta(t, a, b, 1e-12)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := Dissonance([]float64{440, 466}, []float64{1}, nil)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("negative input", func(t *testing.T) {
		_, err := Dissonance([]float64{440, -1}, []float64{1, 1}, nil)
		assert.ErrorIs(t, err, ErrNegativeInput)
	})
}

func TestHarmonicTone(t *testing.T) {
	freqs, amps, err := HarmonicTone([]float64{100, 200}, 2, ProfileExp)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200, 200, 400}, freqs)
	assert.InDeltaSlice(t, []float64{0.88, 0.7744, 0.88, 0.7744}, amps, 1e-12)

	_, amps, err = HarmonicTone([]float64{100}, 3, ProfileInverse)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0.5, 1.0 / 3}, amps, 1e-12)

	_, amps, err = HarmonicTone([]float64{100}, 2, ProfileConstant)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, amps)

	_, _, err = HarmonicTone([]float64{100}, 2, Profile("square"))
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestTuning(t *testing.T) {
	assert.Equal(t, 440.0, PitchToFreq(0))
	assert.InDelta(t, 880.0, PitchToFreq(12), 1e-9)
	assert.InDelta(t, 12.0, FreqToPitch(880), 1e-9)
	assert.Equal(t, 440.0, MidiToFreq(69))
	assert.Equal(t, 60, BaseCMidi(4))
}

func TestChordDissonance(t *testing.T) {
	assert.Equal(t, 0.0, ChordDissonance(nil, 10))
	assert.Greater(t, ChordDissonance([]int{0}, 10), 0.0, "partials of one tone interact")

	second := ChordDissonance([]int{0, 1}, 10)
	octave := ChordDissonance([]int{0, 12}, 10)
	assert.Greater(t, second, octave)
}

func TestProcess(t *testing.T) {
	p := DefaultSTMParams()

	t.Run("empty memory", func(t *testing.T) {
		d, mem := Process([]int{0, 4, 7}, 1, nil, p)
		assert.InDelta(t, ChordDissonance([]int{0, 4, 7}, 10), d, 1e-12)
		require.Len(t, mem, 1)
		assert.Equal(t, 1.0, mem[0].Onset)
	})

	t.Run("interference with one event", func(t *testing.T) {
		past := Event{Notes: []int{1}, Onset: 0, Dissonance: ChordDissonance([]int{1}, 10)}
		current := ChordDissonance([]int{0}, 10)
		merged := ChordDissonance([]int{0, 1}, 10)

		activation := 2 - 0.5*math.Log(2) - 0.5*math.Log(2)
		w := activation * math.Exp(-1.0/3)
		want := current + w*(merged-current-past.Dissonance)

		d, mem := Process([]int{0}, 1, []Event{past}, p)
		assert.InDelta(t, want, d, 1e-12)
		assert.Len(t, mem, 2)
	})

	t.Run("future events are forgotten", func(t *testing.T) {
		future := Event{Notes: []int{1}, Onset: 5}
		_, mem := Process([]int{0}, 1, []Event{future}, p)
		require.Len(t, mem, 1)
		assert.Equal(t, []int{0}, mem[0].Notes)
	})
}

func TestSTM(t *testing.T) {
	t.Run("evaluate does not remember", func(t *testing.T) {
		s := NewSTM(DefaultSTMConfig())
		d := s.Evaluate([]int{60, 61}, []float64{1, 1}, 0)
		assert.Greater(t, d, 0.0)
		assert.Empty(t, s.Memory())
	})

	t.Run("single note alone is smooth", func(t *testing.T) {
		s := NewSTM(DefaultSTMConfig())
		assert.Equal(t, 0.0, s.Evaluate([]int{60}, []float64{1}, 0))
	})

	t.Run("commit remembers and prunes", func(t *testing.T) {
		s := NewSTM(DefaultSTMConfig())
		s.Commit([]int{60, 64}, []float64{1, 1}, 0)
		require.Len(t, s.Memory(), 1)

		s.Commit([]int{61}, []float64{1}, 0.5)
		assert.Len(t, s.Memory(), 2)

		s.Commit([]int{62}, []float64{1}, 100)
		mem := s.Memory()
		require.Len(t, mem, 1)
		assert.Equal(t, []int{62}, mem[0].Notes)
	})

	t.Run("memory makes a clash with the past rougher", func(t *testing.T) {
		s := NewSTM(DefaultSTMConfig())
		alone := s.Evaluate([]int{61}, []float64{1}, 0.1)
		s.Commit([]int{60}, []float64{1}, 0)
		assert.Greater(t, s.Evaluate([]int{61}, []float64{1}, 0.1), alone)
	})

	t.Run("cost func uses unit amplitudes", func(t *testing.T) {
		s := NewSTM(DefaultSTMConfig())
		cost := s.CostFunc()
		assert.Equal(t, s.Evaluate([]int{60, 61}, []float64{1, 1}, 0), cost([]int{60, 61}, 0))
	})
}

func TestVoiceChords(t *testing.T) {
	notes, amps := VoiceChords([]int{4, 5}, []float64{1, 0.5}, [][]int{{0, 4}, {7}})
	assert.Equal(t, []int{60, 64, 79}, notes)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, amps)

	notes, _ = VoiceChords([]int{4}, []float64{1}, [][]int{{-1}})
	assert.Equal(t, []int{71}, notes)
}

func TestSTM_RoughnessForCombo(t *testing.T) {
	s := NewSTM(DefaultSTMConfig())
	combo := []int{0, 1, 7}
	octaves := []int{4, 5}
	vols := []float64{1, 1}

	order := s.OrderPitchClasses(combo, octaves, vols, 0)
	require.Len(t, order, 3)
	assert.ElementsMatch(t, combo, order)

	d, chords := s.RoughnessForCombo(combo, []int{2, 9}, octaves, vols, 0)
	assert.GreaterOrEqual(t, d, 0.0)
	require.Len(t, chords, 2)
	assert.Equal(t, order[:2], chords[0])
	assert.Equal(t, order, chords[1])
}
