package pulse

import "time"

// State is the refresh pipeline state. Exactly one coordinator owns it.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
)

// Report is one category's resolved fetch: the extracted payload text, or the
// category placeholder when the fetch failed. Err is diagnostic only and is
// never rendered.
type Report struct {
	Category    Category
	Text        string
	Placeholder bool
	Err         string
	Duration    time.Duration
	Bytes       int64
}

// RiskLevel grades a brand opportunity.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// TrendItem is one trending topic with its source platform.
type TrendItem struct {
	Source string `json:"source"`
	Title  string `json:"title"`
}

// VelocityItem is one topic with its movement score.
type VelocityItem struct {
	Topic    string `json:"topic"`
	Platform string `json:"platform"`
	Score    int    `json:"score"`
}

// RegionItem is one UK region and its local trend.
type RegionItem struct {
	Name  string `json:"name"`
	Trend string `json:"trend"`
}

// ForecastEntry is one line of the cultural weather outlook.
type ForecastEntry struct {
	Label   string `json:"label"`
	Outlook string `json:"outlook"`
}

// WeatherSummary is the cultural weather report.
type WeatherSummary struct {
	Mood        string          `json:"mood"`
	Description string          `json:"description"`
	Forecast    []ForecastEntry `json:"forecast,omitempty"`
}

// OpportunityItem is one brand opportunity with risk and confidence.
type OpportunityItem struct {
	Title      string    `json:"title"`
	Risk       RiskLevel `json:"risk"`
	Confidence int       `json:"confidence"`
}

// PanelContent is the extracted form of one report: free-form prose, or the
// typed records a panel renders. Exactly one shape is populated.
type PanelContent struct {
	Prose         string            `json:"prose,omitempty"`
	Trends        []TrendItem       `json:"trends,omitempty"`
	Velocity      []VelocityItem    `json:"velocity,omitempty"`
	Regions       []RegionItem      `json:"regions,omitempty"`
	Weather       *WeatherSummary   `json:"weather,omitempty"`
	Themes        []string          `json:"themes,omitempty"`
	Opportunities []OpportunityItem `json:"opportunities,omitempty"`
}

// Panel is the view-model one dashboard panel renders.
type Panel struct {
	Category    Category  `json:"category"`
	Updated     time.Time `json:"updated"`
	Placeholder bool      `json:"placeholder"`
	PanelContent
}

// Snapshot is a copy of the whole dashboard state for the API.
type Snapshot struct {
	State            State              `json:"state"`
	LastUpdated      time.Time          `json:"last_updated"`
	LastUpdatedLabel string             `json:"last_updated_label,omitempty"`
	Panels           map[Category]Panel `json:"panels"`
}

// londonTZ pins timestamps to UK wall clock; the agent reasons in GMT/BST.
var londonTZ = func() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		return time.Local
	}
	return loc
}()

// FormatUpdatedLabel renders a refresh timestamp the way the header shows it:
// hour:minute, day and short month.
func FormatUpdatedLabel(t time.Time) string {
	return t.In(londonTZ).Format("15:04, 2 Jan")
}
