package vitals

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PatternSet selects how cholesterol and glucose are located in text.
type PatternSet string

const (
	// PatternsLabeled requires a "cholesterol" or "glucose"/"blood sugar"
	// label before the mg/dL value, so the two metrics scan independently.
	PatternsLabeled PatternSet = "labeled"
	// PatternsShared lets both metrics take the first "<number> mg/dL" in
	// the document, matching records written by the legacy uploader.
	PatternsShared PatternSet = "shared"
)

// Rule extracts one metric. The first capture group of Pattern is the value.
type Rule struct {
	Kind     Kind
	Pattern  *regexp.Regexp
	Classify func(value string) Status
}

// Apply returns the first match classified, or NoMatch.
func (r Rule) Apply(text string) Reading {
	m := r.Pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return NoMatch
	}
	return Reading{Value: m[1], Status: r.Classify(m[1])}
}

var (
	bloodPressurePattern = regexp.MustCompile(`(\d+/\d+)`)
	heartRatePattern     = regexp.MustCompile(`(\d+)\s*bpm`)
	sharedMgdlPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*mg/dL`)

	labeledCholesterolPattern = regexp.MustCompile(`(?i)\bcholesterol\b[^0-9\n]{0,30}?(\d+(?:\.\d+)?)\s*mg/dL`)
	labeledGlucosePattern     = regexp.MustCompile(`(?i)\b(?:glucose|blood\s+sugar)\b[^0-9\n]{0,30}?(\d+(?:\.\d+)?)\s*mg/dL`)
)

// RulesFor returns the four extraction rules for set.
func RulesFor(set PatternSet) ([]Rule, error) {
	cholesterol, glucose := labeledCholesterolPattern, labeledGlucosePattern
	switch set {
	case PatternsLabeled, "":
	case PatternsShared:
		cholesterol, glucose = sharedMgdlPattern, sharedMgdlPattern
	default:
		return nil, fmt.Errorf("unknown metric pattern set %q", set)
	}

	return []Rule{
		{Kind: BloodPressure, Pattern: bloodPressurePattern, Classify: ClassifyBloodPressure},
		{Kind: Cholesterol, Pattern: cholesterol, Classify: ClassifyCholesterol},
		{Kind: Glucose, Pattern: glucose, Classify: ClassifyGlucose},
		{Kind: HeartRate, Pattern: heartRatePattern, Classify: ClassifyHeartRate},
	}, nil
}

// ClassifyBloodPressure classifies "systolic/diastolic" in mmHg.
func ClassifyBloodPressure(v string) Status {
	sys, dia, ok := strings.Cut(v, "/")
	if !ok {
		return StatusUnknown
	}
	systolic, err := strconv.Atoi(strings.TrimSpace(sys))
	if err != nil {
		return StatusUnknown
	}
	diastolic, err := strconv.Atoi(strings.TrimSpace(dia))
	if err != nil {
		return StatusUnknown
	}

	switch {
	case systolic > 130 || diastolic > 80:
		return StatusHigh
	case systolic < 90 || diastolic < 60:
		return StatusLow
	default:
		return StatusNormal
	}
}

// ClassifyCholesterol classifies total cholesterol in mg/dL.
func ClassifyCholesterol(v string) Status { return classifyFloat(v, 150, 200) }

// ClassifyGlucose classifies fasting glucose in mg/dL.
func ClassifyGlucose(v string) Status { return classifyFloat(v, 70, 126) }

// ClassifyHeartRate classifies resting heart rate in bpm.
func ClassifyHeartRate(v string) Status {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return StatusUnknown
	}
	return band(float64(n), 60, 100)
}

func classifyFloat(v string, low, high float64) Status {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return StatusUnknown
	}
	return band(f, low, high)
}

func band(v, low, high float64) Status {
	switch {
	case v > high:
		return StatusHigh
	case v < low:
		return StatusLow
	default:
		return StatusNormal
	}
}
