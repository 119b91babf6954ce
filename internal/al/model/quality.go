package model

// QualityScore penalizes a procedure's complexity, length, and parameter
// count against a 10-point baseline. The curve's breakpoints sit below the
// warning thresholds diagnostics and code lenses use, so the score starts
// dropping before a marker appears.
func QualityScore(complexity int, lineCount int, paramCount int) float64 {
	score := 10.0

	switch {
	case complexity > 4:
		score -= 1.6 + float64(complexity-4)*1.2
	case complexity > 2:
		score -= float64(complexity-2) * 0.8
	}

	switch {
	case lineCount > 15:
		score -= 1.5 + float64(lineCount-15)*0.15
	case lineCount > 10:
		score -= float64(lineCount-10) * 0.3
	}

	switch {
	case paramCount > 4:
		score -= 1.0 + float64(paramCount-4)*0.8
	case paramCount > 2:
		score -= float64(paramCount-2) * 0.5
	}

	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// Default diagnostic and code-lens thresholds. Config may override any of
// them per project; these are the numbers used when it doesn't.
const (
	ComplexityWarning  = 5
	ComplexityCritical = 10
	LengthWarning      = 20
	LengthCritical     = 50
	ParamsWarning      = 4
	ParamsCritical     = 7
	FanInWarning       = 20
)

// Thresholds is the runtime form of the limits above, carried by the
// server so a config file can tighten or relax them.
type Thresholds struct {
	ComplexityWarning  int
	ComplexityCritical int
	LengthWarning      int
	LengthCritical     int
	ParamsWarning      int
	ParamsCritical     int
	FanInWarning       int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ComplexityWarning:  ComplexityWarning,
		ComplexityCritical: ComplexityCritical,
		LengthWarning:      LengthWarning,
		LengthCritical:     LengthCritical,
		ParamsWarning:      ParamsWarning,
		ParamsCritical:     ParamsCritical,
		FanInWarning:       FanInWarning,
	}
}
