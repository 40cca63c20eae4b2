package vitals

import (
	"fmt"
	"sort"
	"time"
)

// Selection decides which record supplies TrendResult.Current.
type Selection string

const (
	// SelectLatest reports the chronologically latest record.
	SelectLatest Selection = "latest"
	// SelectFirstSeen reports the first record in the order the caller
	// supplied, which is how legacy analysis pages behaved.
	SelectFirstSeen Selection = "first-seen"
)

// Entry is one decrypted record fed to the aggregator.
type Entry struct {
	Bundle Bundle
	Date   time.Time
}

// Aggregator folds a patient's records into per-metric trends.
type Aggregator struct {
	selection Selection
}

// NewAggregator validates sel ("" means SelectLatest).
func NewAggregator(sel Selection) (*Aggregator, error) {
	switch sel {
	case "":
		sel = SelectLatest
	case SelectLatest, SelectFirstSeen:
	default:
		return nil, fmt.Errorf("unknown current selection %q", sel)
	}
	return &Aggregator{selection: sel}, nil
}

// Analyze accepts entries in any order. History is always oldest first.
func (a *Aggregator) Analyze(entries []Entry) Analysis {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	out := make(Analysis, len(Kinds))
	for _, k := range Kinds {
		res := TrendResult{
			Current: Missing,
			History: make([]HistoryPoint, 0, len(ordered)),
		}
		for _, e := range ordered {
			r := e.Bundle.Get(k)
			res.History = append(res.History, HistoryPoint{Value: r.Value, Status: r.Status, Date: e.Date})
		}

		if len(entries) > 0 {
			switch a.selection {
			case SelectFirstSeen:
				res.Current = entries[0].Bundle.Get(k)
			default:
				res.Current = ordered[len(ordered)-1].Bundle.Get(k)
			}
		}

		res.Trend = trendOf(res.History)
		out[k] = res
	}
	return out
}

func trendOf(history []HistoryPoint) Trend {
	if len(history) <= 1 {
		return TrendNone
	}
	if len(history) >= 3 {
		last := history[len(history)-3:]
		switch {
		case allStatus(last, StatusHigh):
			return TrendIncreasing
		case allStatus(last, StatusLow):
			return TrendDecreasing
		}
	}
	return TrendStable
}

func allStatus(points []HistoryPoint, s Status) bool {
	for _, p := range points {
		if p.Status != s {
			return false
		}
	}
	return true
}
