package analytics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ExportJSON writes the report as indented JSON.
func ExportJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ExportCSV writes the per-project risk table, one row per project across
// all tiers.
func ExportCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Index", "Research Area", "Risk", "Score", "Factors"})
	for _, tier := range [][]RiskEntry{r.Risk.High, r.Risk.Medium, r.Risk.Low} {
		for _, e := range tier {
			cw.Write([]string{
				e.IndexNo,
				e.ResearchArea,
				string(e.Level),
				fmt.Sprintf("%d", e.Score),
				strings.Join(e.Factors, "; "),
			})
		}
	}
	cw.Flush()
	return cw.Error()
}
