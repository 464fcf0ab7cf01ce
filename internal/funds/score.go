package funds

// Thresholds tunes fund matching. The zero value is not usable; start from
// DefaultThresholds.
type Thresholds struct {
	MinSharedChars int     // distinct alphanumerics a fund must share with a candidate
	PenaltyFloor   int     // penalty limit is max(PenaltyFloor, len(candidate))
	LowScoreCap    float64 // score limit is min(LowScoreCap, LowScoreRatio*len(candidate))
	LowScoreRatio  float64
	MinScore       float64 // best common-substring score must reach this
	PrefixMin      int     // shortest text accepted as a name prefix
	LengthSlack    int     // candidates longer than the longest name plus this are skipped
}

// DefaultThresholds returns the empirically tuned matcher limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSharedChars: 3,
		PenaltyFloor:   12,
		LowScoreCap:    5,
		LowScoreRatio:  0.8,
		MinScore:       5,
		PrefixMin:      30,
		LengthSlack:    20,
	}
}

// Overlap is the geometry of the longest common substring between a
// candidate (length CandLen) and a fund name (length FundLen), both in
// alphanumeric form.
type Overlap struct {
	CandLen, FundLen int
	Length           int
	CandPos, FundPos int
}

// Tails returns the character counts after the common substring.
func (o Overlap) Tails() (candTail, fundTail int) {
	return o.CandLen - (o.CandPos + o.Length), o.FundLen - (o.FundPos + o.Length)
}

// Penalty is the total number of characters outside the common substring.
func (o Overlap) Penalty() int {
	ct, ft := o.Tails()
	return o.CandPos + o.FundPos + ct + ft
}

// SubstringScore scores an overlap: length minus a quarter of the penalty,
// never below 1. ok is false when the penalty exceeds
// max(PenaltyFloor, CandLen) or the score falls below
// min(LowScoreCap, LowScoreRatio*CandLen).
func SubstringScore(o Overlap, th Thresholds) (score float64, ok bool) {
	penalty := o.Penalty()
	score = max(1, float64(o.Length)-float64(penalty)/4)
	if penalty > max(th.PenaltyFloor, o.CandLen) {
		return score, false
	}
	if score < min(th.LowScoreCap, th.LowScoreRatio*float64(o.CandLen)) {
		return score, false
	}
	return score, true
}

// FinalScore refines a substring match by the edit distance between the
// full names, never below 1.
func FinalScore(length, distance int) int {
	return max(1, length-distance)
}
