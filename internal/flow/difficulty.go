package flow

import "math"

// Round classification thresholds and streak lengths for the difficulty
// cascade.
const (
	// passScore is the minimum OverallScore for a round to count as a pass.
	passScore = 7

	// failScore is the maximum OverallScore for a round to count as a fail.
	failScore = 4

	// stepUpStreak is how many consecutive passes trigger a difficulty
	// increase.
	stepUpStreak = 3

	// stepDownStreak is how many consecutive fails trigger a difficulty
	// decrease.
	stepDownStreak = 2

	// blendCurrentWeight and blendSuggestedWeight mix the current difficulty
	// with the analyzer's suggestion on neutral rounds.
	blendCurrentWeight   = 0.7
	blendSuggestedWeight = 0.3
)

// Advance applies one analyzed answer to a session state and returns the
// updated state. It is a pure function: the input state is never mutated, and
// identical inputs always produce identical outputs.
//
// The update runs in a fixed order — keyword merge, streak classification,
// difficulty cascade, drift clamp, bookkeeping — because each step reads the
// values the previous step produced.
func Advance(state State, analysis Analysis) State {
	next := state.Clone()

	// 1. Merge keywords, skipping exact (case-sensitive) duplicates.
	next.Keywords = mergeKeywords(next.Keywords, analysis.Keywords)

	// 2. Classify the round. Neutral rounds leave both streaks untouched.
	switch {
	case analysis.OverallScore >= passScore:
		next.ConsecutiveCorrect++
		next.ConsecutiveIncorrect = 0
	case analysis.OverallScore <= failScore:
		next.ConsecutiveIncorrect++
		next.ConsecutiveCorrect = 0
	}

	// 3. Difficulty cascade — only the first matching rule fires.
	difficulty := next.CurrentDifficulty
	switch {
	case next.ConsecutiveCorrect >= stepUpStreak:
		difficulty = min(MaxDifficulty, difficulty+1)
		next.ConsecutiveCorrect = 0
	case next.ConsecutiveIncorrect >= stepDownStreak:
		difficulty = max(MinDifficulty, difficulty-1)
		next.ConsecutiveIncorrect = 0
	default:
		blended := blendCurrentWeight*float64(difficulty) +
			blendSuggestedWeight*float64(analysis.SuggestedNextDifficulty)
		difficulty = roundHalfUp(blended)
	}

	// 4. Clamp to the base-difficulty drift window, then to the absolute
	// scale. The second clamp is redundant for valid bases but guards against
	// corrupted persisted state.
	difficulty = clamp(difficulty, next.BaseDifficulty-MaxDrift, next.BaseDifficulty+MaxDrift)
	difficulty = clamp(difficulty, MinDifficulty, MaxDifficulty)

	// 5. Bookkeeping.
	next.CurrentDifficulty = difficulty
	next.QuestionsAsked++
	a := analysis
	a.Keywords = append([]string(nil), analysis.Keywords...)
	next.LastAnalysis = &a

	return next
}

// mergeKeywords appends the members of incoming not already present in
// existing. Matching is exact and case-sensitive; order of first appearance is
// preserved.
func mergeKeywords(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		seen[k] = struct{}{}
	}
	out := existing
	for _, k := range incoming {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// roundHalfUp rounds to the nearest integer with .5 always rounding up.
// math.Round would also round halves away from zero, but all blend inputs are
// positive here; the explicit form documents the tie-break the engine
// guarantees.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// clamp restricts v to the inclusive range [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
