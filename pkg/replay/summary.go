package replay

// Stats counts replay outcomes.
type Stats struct {
	Invocations int `json:"invocations"`
	Traced      int `json:"traced"`
	Errored     int `json:"errored"`
	Failed      int `json:"failed"`
}

// Summarize counts results. Failed counts invocations whose handler
// returned an error, traced or not.
func Summarize(results []Result) Stats {
	s := Stats{Invocations: len(results)}
	for _, r := range results {
		if r.Traced {
			s.Traced++
		}
		if r.Errored {
			s.Errored++
		}
		if r.Err != nil {
			s.Failed++
		}
	}
	return s
}
