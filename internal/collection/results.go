package collection

import (
	"github.com/roach88/strata/internal/ir"
)

// ActionResultType discriminates action outcomes.
type ActionResultType string

const (
	ActionSuccess  ActionResultType = "Success"
	ActionError    ActionResultType = "Error"
	ActionWebhook  ActionResultType = "Webhook"
	ActionFile     ActionResultType = "File"
	ActionRedirect ActionResultType = "Redirect"
)

// ActionResult is what an action returns to the caller. Only the fields
// relevant to Type are set.
type ActionResult struct {
	Type              ActionResultType  `json:"type"`
	Message           string            `json:"message,omitempty"`
	HTML              string            `json:"html,omitempty"`
	InvalidatedCharts []string          `json:"invalidatedCharts,omitempty"`
	URL               string            `json:"url,omitempty"`
	Method            string            `json:"method,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	Body              ir.Record         `json:"body,omitempty"`
	FileName          string            `json:"fileName,omitempty"`
	MimeType          string            `json:"mimeType,omitempty"`
	Content           []byte            `json:"content,omitempty"`
	Path              string            `json:"path,omitempty"`
}

// Success builds a success result.
func Success(message string) ActionResult {
	return ActionResult{Type: ActionSuccess, Message: message}
}

// Failure builds an error result. The action ran; it reports a failure to
// the user rather than returning a Go error.
func Failure(message string) ActionResult {
	return ActionResult{Type: ActionError, Message: message}
}

// ChartType discriminates chart payloads.
type ChartType string

const (
	ChartValue        ChartType = "Value"
	ChartDistribution ChartType = "Distribution"
	ChartLeaderboard  ChartType = "Leaderboard"
	ChartObjective    ChartType = "Objective"
	ChartPercentage   ChartType = "Percentage"
	ChartTimeBased    ChartType = "TimeBased"
)

// Chart is a rendered chart: a type and its data.
type Chart struct {
	Type  ChartType `json:"type"`
	Value ir.Value  `json:"value"`
}

// ValueChart builds a single-value chart, with the previous value when
// known.
func ValueChart(value, previous ir.Value) Chart {
	data := ir.Record{"countCurrent": value}
	if previous != nil {
		data["countPrevious"] = previous
	}
	return Chart{Type: ChartValue, Value: data}
}

// DistributionChart builds a key/value chart.
func DistributionChart(entries []ir.Record) Chart {
	list := make(ir.List, len(entries))
	for i, e := range entries {
		list[i] = e
	}
	return Chart{Type: ChartDistribution, Value: list}
}
