// ABOUTME: Chart intent and result types plus the Renderer contract
// ABOUTME: Defines the per-message cap and the kind-to-tool mapping for the chart service

package charts

import (
	"context"
	"encoding/json"
	"errors"
)

// MaxChartsPerMessage is the hard cap on chart intents per assistant
// message. Intents beyond the cap are rejected with a policy error, never
// silently dropped.
const MaxChartsPerMessage = 5

// ErrTooManyCharts is the policy error recorded for intents beyond
// MaxChartsPerMessage.
var ErrTooManyCharts = errors.New("chart intent exceeds per-message cap")

// Intent is one chart request detected in the generation output. Ordinal
// is its position within the message, fixed at detection time and
// independent of which chart call completes first.
type Intent struct {
	Ordinal     int             `json:"-"`
	Kind        string          `json:"chart_type"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// Outcome of a settled chart intent.
type Outcome string

const (
	// OutcomeReady means the chart service returned a renderable config.
	OutcomeReady Outcome = "ready"
	// OutcomeOmitted means the call timed out or failed; the chart is
	// reported as degraded, never as a fatal turn error.
	OutcomeOmitted Outcome = "omitted"
	// OutcomeRejected means the intent was refused by policy (over the cap).
	OutcomeRejected Outcome = "rejected"
)

// Result is the settled outcome for one intent ordinal.
type Result struct {
	Ordinal int
	Kind    string
	Config  json.RawMessage // non-nil only when Outcome is OutcomeReady
	Outcome Outcome
	Reason  string // populated for omitted/rejected results
}

// Renderer is the contract with the external chart service: one structured
// chart specification in, a renderable configuration (or an error) out.
// Implementations must honor ctx deadlines and cancellation.
type Renderer interface {
	Render(ctx context.Context, intent *Intent) (json.RawMessage, error)
}

// toolForKind maps a chart kind to the chart service tool that renders it.
var toolForKind = map[string]string{
	"bar":          "generate_bar_chart",
	"column":       "generate_column_chart",
	"line":         "generate_line_chart",
	"area":         "generate_area_chart",
	"pie":          "generate_pie_chart",
	"scatter":      "generate_scatter_chart",
	"radar":        "generate_radar_chart",
	"funnel":       "generate_funnel_chart",
	"boxplot":      "generate_boxplot_chart",
	"violin":       "generate_violin_chart",
	"histogram":    "generate_histogram_chart",
	"treemap":      "generate_treemap_chart",
	"sankey":       "generate_sankey_chart",
	"network":      "generate_network_graph",
	"wordcloud":    "generate_word_cloud_chart",
	"venn":         "generate_venn_chart",
	"liquid":       "generate_liquid_chart",
	"dual_axes":    "generate_dual_axes_chart",
	"mindmap":      "generate_mind_map",
	"mind_map":     "generate_mind_map",
	"fishbone":     "generate_fishbone_diagram",
	"flow":         "generate_flow_diagram",
	"organization": "generate_organization_chart",
}

// defaultTool renders unknown kinds as a column chart.
const defaultTool = "generate_column_chart"
