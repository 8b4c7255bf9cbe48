// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dissonance estimates sensory roughness of simultaneous tones.
//
// The pair model follows Sethares (1993): every pair of partials
// contributes a_1·a_2·(e^{-A·x} - e^{-B·x}) where x is the frequency gap
// scaled by the critical bandwidth at the lower partial. Chord roughness is
// the sum over all partial pairs. Memory adds the interference between the
// current chord and recently heard ones, decaying with time.
package dissonance

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Sentinel errors for the dissonance package.
var (
	// ErrNegativeInput is returned when a frequency or amplitude is negative.
	ErrNegativeInput = errors.New("negative frequency or amplitude")

	// ErrLengthMismatch is returned when frequencies and amplitudes differ in
	// length.
	ErrLengthMismatch = errors.New("frequency and amplitude lengths differ")

	// ErrUnknownProfile is returned for an unsupported amplitude profile.
	ErrUnknownProfile = errors.New("unknown amplitude profile")
)

// Sethares 1993 model constants.
const (
	SetharesA    = 3.5
	SetharesB    = 5.75
	SetharesDMax = 0.24
	SetharesS1   = 0.0207
	SetharesS2   = 18.96
)

// AmpEpsilon is the amplitude below which a partial is ignored.
const AmpEpsilon = 1e-6

// Model scores one pair of partials. f1 must not exceed f2.
type Model interface {
	Pair(f1, f2, a1, a2 float64) float64
}

// Sethares1993 is the Plomp-Levelt curve parameterised by Sethares.
type Sethares1993 struct{}

// Pair implements Model.
func (Sethares1993) Pair(f1, f2, a1, a2 float64) float64 {
	s := SetharesDMax / (SetharesS1*f1 + SetharesS2)
	x := s * (f2 - f1)
	return a1 * a2 * (math.Exp(-SetharesA*x) - math.Exp(-SetharesB*x))
}

type partial struct {
	freq, amp float64
}

// Dissonance sums the model over every pair of partials.
//
// # Description
//
// Partials quieter than AmpEpsilon are dropped and the rest are sorted by
// frequency so that each pair is scored lower-first. Fewer than two
// remaining partials give zero.
//
// # Inputs
//
//   - freqs: Partial frequencies in Hz.
//   - amps: Partial amplitudes, one per frequency.
//   - model: Pair model. Nil means Sethares1993.
//
// # Outputs
//
//   - float64: Total roughness.
//   - error: ErrLengthMismatch or ErrNegativeInput.
func Dissonance(freqs, amps []float64, model Model) (float64, error) {
	if len(freqs) != len(amps) {
		return 0, fmt.Errorf("%d freqs, %d amps: %w", len(freqs), len(amps), ErrLengthMismatch)
	}
	if model == nil {
		model = Sethares1993{}
	}

	partials := make([]partial, 0, len(freqs))
	for i, f := range freqs {
		a := amps[i]
		if f < 0 || a < 0 {
			return 0, fmt.Errorf("partial %d (%v Hz, amp %v): %w", i, f, a, ErrNegativeInput)
		}
		if a < AmpEpsilon {
			continue
		}
		partials = append(partials, partial{freq: f, amp: a})
	}
	if len(partials) < 2 {
		return 0, nil
	}
	sort.SliceStable(partials, func(i, j int) bool { return partials[i].freq < partials[j].freq })

	total := 0.0
	for i := 0; i < len(partials); i++ {
		for j := i + 1; j < len(partials); j++ {
			p, q := partials[i], partials[j]
			total += model.Pair(p.freq, q.freq, p.amp, q.amp)
		}
	}
	return total, nil
}

// Profile shapes partial amplitudes.
type Profile string

// Supported amplitude profiles.
const (
	ProfileExp      Profile = "exp"
	ProfileInverse  Profile = "inverse"
	ProfileConstant Profile = "constant"
)

// ExpDecay is the per-partial amplitude ratio of ProfileExp.
const ExpDecay = 0.88

// HarmonicTone expands fundamentals into n harmonic partials each. Partial
// i (1-based) has frequency i·f and an amplitude given by the profile.
func HarmonicTone(fundamentals []float64, n int, profile Profile) (freqs, amps []float64, err error) {
	shape := make([]float64, n)
	for i := range shape {
		k := float64(i + 1)
		switch profile {
		case ProfileExp:
			shape[i] = math.Pow(ExpDecay, k)
		case ProfileInverse:
			shape[i] = 1 / k
		case ProfileConstant:
			shape[i] = 1
		default:
			return nil, nil, fmt.Errorf("%q: %w", profile, ErrUnknownProfile)
		}
	}

	freqs = make([]float64, 0, len(fundamentals)*n)
	amps = make([]float64, 0, len(fundamentals)*n)
	for _, f := range fundamentals {
		for i := range shape {
			freqs = append(freqs, f*float64(i+1))
			amps = append(amps, shape[i])
		}
	}
	return freqs, amps, nil
}

// PitchToFreq maps a pitch in semitones relative to A440 to Hz.
func PitchToFreq(pitch float64) float64 {
	return 440 * math.Pow(2, pitch/12)
}

// FreqToPitch is the inverse of PitchToFreq.
func FreqToPitch(freq float64) float64 {
	return math.Log2(freq/440) * 12
}

// MidiToFreq maps a MIDI note number to Hz with A4 = 69 = 440 Hz.
func MidiToFreq(midi float64) float64 {
	return PitchToFreq(midi - 69)
}

// BaseCMidi returns the MIDI number of C in the given octave (C4 = 60).
func BaseCMidi(octave int) int {
	return 12 * (octave + 1)
}

// ChordDissonance is the roughness of a chord of pitches, each expanded into
// n exponentially decaying harmonic partials.
func ChordDissonance(pitches []int, n int) float64 {
	fundamentals := make([]float64, len(pitches))
	for i, p := range pitches {
		fundamentals[i] = PitchToFreq(float64(p))
	}
	freqs, amps, err := HarmonicTone(fundamentals, n, ProfileExp)
	if err != nil {
		return 0
	}
	d, err := Dissonance(freqs, amps, Sethares1993{})
	if err != nil {
		return 0
	}
	return d
}
