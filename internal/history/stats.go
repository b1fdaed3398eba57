package history

import "github.com/MrWong99/callcoach/pkg/types"

// Stats aggregates a history list for the dashboard.
type Stats struct {
	TotalCalls      int                          `json:"totalCalls"`
	TotalDuration   int                          `json:"totalDuration"`
	AverageDuration int                          `json:"averageDuration"`
	PromiseCount    int                          `json:"promiseCount"`
	TotalPromised   float64                      `json:"totalPromised"`
	CallsWithPledge int                          `json:"callsWithPromise"`
	Sentiment       map[types.SentimentLabel]int `json:"sentiment"`
}

// Summarize computes [Stats] over items.
func Summarize(items []types.CallHistoryItem) Stats {
	s := Stats{
		TotalCalls: len(items),
		Sentiment: map[types.SentimentLabel]int{
			types.SentimentPositive: 0,
			types.SentimentNeutral:  0,
			types.SentimentNegative: 0,
		},
	}
	for _, it := range items {
		s.TotalDuration += it.Duration
		s.PromiseCount += it.PromiseCount
		s.TotalPromised += it.TotalPromisedAmount
		if it.PromiseCount > 0 {
			s.CallsWithPledge++
		}
		label := it.Sentiment.Label
		if label == "" {
			label = types.SentimentNeutral
		}
		s.Sentiment[label]++
	}
	if s.TotalCalls > 0 {
		s.AverageDuration = s.TotalDuration / s.TotalCalls
	}
	return s
}
