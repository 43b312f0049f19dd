package learning

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// ErrNoScores is returned when there is nothing to summarize.
var ErrNoScores = errors.New("no topic scores")

// TopicScore is one row of class performance data.
type TopicScore struct {
	Topic           string  `json:"topic"`
	AvgScore        float64 `json:"avgScore"`
	DifficultyLevel string  `json:"difficultyLevel"`
}

// ClassSummary aggregates topic scores across the class.
type ClassSummary struct {
	Topics       int
	Mean         float64
	StdDev       float64
	Weakest      TopicScore
	Strongest    TopicScore
	BelowAverage []string // topics more than one std-dev below the mean
}

// SummarizeScores computes mean, spread and extremes of the given scores.
func SummarizeScores(scores []TopicScore) (ClassSummary, error) {
	if len(scores) == 0 {
		return ClassSummary{}, ErrNoScores
	}

	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = s.AvgScore
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}

	sum := ClassSummary{Topics: len(scores), Mean: mean, StdDev: std, Weakest: scores[0], Strongest: scores[0]}
	for _, s := range scores[1:] {
		if s.AvgScore < sum.Weakest.AvgScore {
			sum.Weakest = s
		}
		if s.AvgScore > sum.Strongest.AvgScore {
			sum.Strongest = s
		}
	}
	for _, s := range scores {
		if std > 0 && s.AvgScore < mean-std {
			sum.BelowAverage = append(sum.BelowAverage, s.Topic)
		}
	}
	sort.Strings(sum.BelowAverage)
	return sum, nil
}

// Describe renders the summary as prompt context.
func (c ClassSummary) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Class summary across %d topics: mean score %.1f, std-dev %.1f. ", c.Topics, c.Mean, c.StdDev)
	fmt.Fprintf(&b, "Weakest topic: %s (%.0f). Strongest topic: %s (%.0f).", c.Weakest.Topic, c.Weakest.AvgScore, c.Strongest.Topic, c.Strongest.AvgScore)
	if len(c.BelowAverage) > 0 {
		fmt.Fprintf(&b, " Significantly below average: %s.", strings.Join(c.BelowAverage, ", "))
	}
	return b.String()
}

// ExportCSV writes the class performance report.
func ExportCSV(w io.Writer, scores []TopicScore) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Topic", "Average Score", "Difficulty Level"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range scores {
		row := []string{s.Topic, strconv.FormatFloat(s.AvgScore, 'f', -1, 64) + "%", s.DifficultyLevel}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %q: %w", s.Topic, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
