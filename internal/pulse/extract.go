package pulse

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ukpulse/pulseboard/internal/util"
)

// Extractor turns one raw agent reply into renderable panel content.
//
// The default extractors try structured forms first: a fenced or bare JSON
// payload with recognisable keys, then markdown-style list lines. Replies
// that match neither are kept verbatim as prose, so a panel never renders
// empty. Swap an entry in the coordinator's extractor map to change how one
// category is parsed.
type Extractor interface {
	Extract(text string) PanelContent
}

// DefaultExtractors returns the extractor wired for each category.
func DefaultExtractors() map[Category]Extractor {
	return map[Category]Extractor{
		CategoryPulse:         trendsExtractor{},
		CategoryVelocity:      velocityExtractor{},
		CategoryRegional:      regionsExtractor{},
		CategoryWeather:       weatherExtractor{},
		CategoryThemes:        themesExtractor{},
		CategoryOpportunities: opportunitiesExtractor{},
	}
}

var (
	listMarkerRe = regexp.MustCompile(`^([-*•]|\d{1,2}[.)])\s+`)
	numberRe     = regexp.MustCompile(`\d+`)
	moodRe       = regexp.MustCompile(`(?i)\b(hot|moderate|cool|cold)\b`)
)

// stripFence removes a markdown code fence around an agent reply. The agent
// wraps JSON in ```json fences more often than not.
func stripFence(text string) string {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// jsonObject decodes a fenced or bare JSON object reply. Returns nil when the
// reply is not a single JSON object.
func jsonObject(text string) map[string]any {
	clean := stripFence(text)
	if !strings.HasPrefix(clean, "{") {
		return nil
	}
	fields, err := util.DecodeJSONMap([]byte(clean))
	if err != nil {
		return nil
	}
	return fields
}

// jsonItems returns the first list found under the given keys of a JSON
// object reply. A top-level JSON array is returned directly.
func jsonItems(text string, keys ...string) []any {
	clean := stripFence(text)
	if strings.HasPrefix(clean, "[") {
		dec := json.NewDecoder(strings.NewReader(clean))
		dec.UseNumber()
		var items []any
		if err := dec.Decode(&items); err != nil {
			return nil
		}
		return items
	}
	fields := jsonObject(text)
	if fields == nil {
		return nil
	}
	for _, key := range keys {
		if items, ok := fields[key].([]any); ok && len(items) > 0 {
			return items
		}
	}
	return nil
}

// fieldString returns the first non-empty string under the given keys.
func fieldString(item any, keys ...string) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range keys {
		if s, ok := util.ToString(m[key]); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// fieldInt returns the first numeric value under the given keys. String
// values such as "87" or "87/100" are coerced.
func fieldInt(item any, keys ...string) (int, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return 0, false
	}
	for _, key := range keys {
		if n, ok := util.ToInt(m[key]); ok {
			return n, true
		}
		if s, ok := util.ToString(m[key]); ok {
			if _, n, ok := lastScore(s); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// listItems returns the text of markdown list lines, with markers and bold
// asterisks stripped.
func listItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		marker := listMarkerRe.FindString(line)
		if marker == "" {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(line, marker))
		item = strings.ReplaceAll(item, "**", "")
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// labelSeps are tried in order when splitting "Label: rest" style items. The
// bare hyphen goes last because it also appears inside compound words.
var labelSeps = []string{" — ", " – ", ": ", " - "}

func splitLabel(s string) (label, rest string, ok bool) {
	for _, sep := range labelSeps {
		i := strings.Index(s, sep)
		if i <= 0 {
			continue
		}
		label = strings.TrimSpace(s[:i])
		rest = strings.TrimSpace(s[i+len(sep):])
		if label != "" && rest != "" {
			return label, rest, true
		}
	}
	return "", "", false
}

// parenTail splits "Topic (TikTok)" into the topic and the parenthesised
// tail. Items without a trailing parenthesis come back unchanged.
func parenTail(s string) (string, string) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ")") {
		return s, ""
	}
	i := strings.LastIndex(s, "(")
	if i < 0 {
		return s, ""
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1 : len(s)-1])
}

// lastScore finds the last number in the 0-100 range on a line and returns
// the text before it. Scores written as "n/100" keep n.
func lastScore(line string) (text string, score int, ok bool) {
	locs := numberRe.FindAllStringIndex(line, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(line[locs[i][0]:locs[i][1]])
		if err != nil || n > 100 {
			continue
		}
		if n == 100 && i > 0 && strings.HasSuffix(strings.TrimSpace(line[locs[i-1][1]:locs[i][0]]), "/") {
			continue
		}
		return strings.TrimRight(line[:locs[i][0]], " \t:·|-–—("), n, true
	}
	return "", 0, false
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// parseRisk grades metadata text. Unknown or missing risk reads as medium.
func parseRisk(s string) RiskLevel {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "high"):
		return RiskHigh
	case strings.Contains(lower, "low"):
		return RiskLow
	default:
		return RiskMedium
	}
}

// trendsExtractor parses the top-trends panel: a JSON list with platform and
// title fields, or one "Platform: title" list line per trend.
type trendsExtractor struct{}

func (trendsExtractor) Extract(text string) PanelContent {
	if items := jsonItems(text, "trends", "topics", "items"); items != nil {
		var out []TrendItem
		for _, item := range items {
			title := fieldString(item, "title", "topic", "trend", "name")
			if title == "" {
				if s, ok := item.(string); ok {
					title = strings.TrimSpace(s)
				}
			}
			if title == "" {
				continue
			}
			out = append(out, TrendItem{
				Source: fieldString(item, "source", "platform"),
				Title:  title,
			})
		}
		if len(out) > 0 {
			return PanelContent{Trends: out}
		}
	}
	var out []TrendItem
	for _, item := range listItems(text) {
		// Platform names are short; a long left side is part of the title.
		if label, rest, ok := splitLabel(item); ok && len(label) <= 24 {
			out = append(out, TrendItem{Source: label, Title: rest})
		} else {
			out = append(out, TrendItem{Title: item})
		}
	}
	if len(out) >= 2 {
		return PanelContent{Trends: out}
	}
	return PanelContent{Prose: text}
}

// velocityExtractor parses topic movement scores. List lines need a number,
// "Topic (Platform): 87" or "Topic — Platform — 87/100".
type velocityExtractor struct{}

func (velocityExtractor) Extract(text string) PanelContent {
	if items := jsonItems(text, "velocity", "topics", "scores", "items"); items != nil {
		var out []VelocityItem
		for _, item := range items {
			topic := fieldString(item, "topic", "title", "name")
			score, ok := fieldInt(item, "score", "velocity", "velocity_score")
			if topic == "" || !ok {
				continue
			}
			out = append(out, VelocityItem{
				Topic:    topic,
				Platform: fieldString(item, "platform", "source"),
				Score:    clampScore(score),
			})
		}
		if len(out) > 0 {
			return PanelContent{Velocity: out}
		}
	}
	var out []VelocityItem
	for _, item := range listItems(text) {
		textPart, score, ok := lastScore(item)
		if !ok || strings.TrimSpace(textPart) == "" {
			continue
		}
		topic, platform := parenTail(textPart)
		if platform == "" {
			if label, rest, ok := splitLabel(topic); ok {
				topic, platform = label, rest
			}
		}
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		out = append(out, VelocityItem{Topic: topic, Platform: platform, Score: clampScore(score)})
	}
	if len(out) >= 2 {
		return PanelContent{Velocity: out}
	}
	return PanelContent{Prose: text}
}

// regionsExtractor parses per-region trends, one "Region: trend" line each.
type regionsExtractor struct{}

func (regionsExtractor) Extract(text string) PanelContent {
	if items := jsonItems(text, "regions", "regional", "items"); items != nil {
		var out []RegionItem
		for _, item := range items {
			name := fieldString(item, "region", "name", "area")
			trend := fieldString(item, "trend", "insight", "summary", "description")
			if name == "" || trend == "" {
				continue
			}
			out = append(out, RegionItem{Name: name, Trend: trend})
		}
		if len(out) > 0 {
			return PanelContent{Regions: out}
		}
	}
	var out []RegionItem
	for _, item := range listItems(text) {
		label, rest, ok := splitLabel(item)
		if !ok {
			continue
		}
		out = append(out, RegionItem{Name: label, Trend: rest})
	}
	if len(out) >= 2 {
		return PanelContent{Regions: out}
	}
	return PanelContent{Prose: text}
}

// weatherExtractor parses the cultural weather report: a mood word, a short
// description and the 24-hour/weekly forecast lines.
type weatherExtractor struct{}

func (weatherExtractor) Extract(text string) PanelContent {
	if fields := jsonObject(text); fields != nil {
		w := &WeatherSummary{
			Mood:        fieldString(fields, "cultural_temperature", "temperature", "mood"),
			Description: fieldString(fields, "description", "summary", "analysis"),
		}
		forecastKeys := []struct{ key, label string }{
			{"24h_forecast", "Next 24 hours"},
			{"forecast_24h", "Next 24 hours"},
			{"weekly_outlook", "This week"},
			{"week_ahead", "This week"},
		}
		for _, fk := range forecastKeys {
			if s, ok := util.ToString(fields[fk.key]); ok && s != "" {
				w.Forecast = append(w.Forecast, ForecastEntry{Label: fk.label, Outlook: s})
			}
		}
		if w.Mood != "" || w.Description != "" || len(w.Forecast) > 0 {
			return PanelContent{Weather: w}
		}
	}
	if w := weatherFromLines(text); w != nil {
		return PanelContent{Weather: w}
	}
	return PanelContent{Prose: text}
}

// weatherFromLines pulls the mood word and forecast lines out of a prose
// weather report. Returns nil when neither is found.
func weatherFromLines(text string) *WeatherSummary {
	w := &WeatherSummary{}
	var desc []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.ReplaceAll(raw, "**", ""))
		if marker := listMarkerRe.FindString(line); marker != "" {
			line = strings.TrimSpace(strings.TrimPrefix(line, marker))
		}
		line = strings.TrimLeft(line, "# ")
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "24") && (strings.Contains(lower, "hour") || strings.Contains(lower, "forecast")):
			w.Forecast = append(w.Forecast, ForecastEntry{Label: "Next 24 hours", Outlook: forecastOutlook(line)})
		case strings.Contains(lower, "weekly") || strings.Contains(lower, "this week") || strings.Contains(lower, "week ahead"):
			w.Forecast = append(w.Forecast, ForecastEntry{Label: "This week", Outlook: forecastOutlook(line)})
		case w.Mood == "" && moodRe.MatchString(line):
			w.Mood = titleWord(moodRe.FindString(line))
			if _, rest, ok := splitLabel(line); ok && !strings.EqualFold(rest, w.Mood) {
				desc = append(desc, rest)
			}
		default:
			desc = append(desc, line)
		}
	}
	if w.Mood == "" && len(w.Forecast) == 0 {
		return nil
	}
	w.Description = strings.Join(desc, " ")
	return w
}

func forecastOutlook(line string) string {
	if _, rest, ok := splitLabel(line); ok {
		return rest
	}
	return line
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// themesExtractor parses emerging theme names, one per line or JSON string.
type themesExtractor struct{}

func (themesExtractor) Extract(text string) PanelContent {
	if items := jsonItems(text, "themes", "items"); items != nil {
		var out []string
		for _, item := range items {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
				continue
			}
			name := fieldString(item, "theme", "title", "name")
			if name == "" {
				continue
			}
			if d := fieldString(item, "description", "summary"); d != "" {
				name = name + ": " + d
			}
			out = append(out, name)
		}
		if len(out) > 0 {
			return PanelContent{Themes: out}
		}
	}
	if items := listItems(text); len(items) >= 2 {
		return PanelContent{Themes: items}
	}
	return PanelContent{Prose: text}
}

// opportunitiesExtractor parses brand opportunities with their risk level and
// confidence score.
type opportunitiesExtractor struct{}

func (opportunitiesExtractor) Extract(text string) PanelContent {
	if items := jsonItems(text, "opportunities", "items"); items != nil {
		var out []OpportunityItem
		for _, item := range items {
			title := fieldString(item, "title", "opportunity", "name")
			if title == "" {
				continue
			}
			conf, _ := fieldInt(item, "confidence", "confidence_score", "score")
			out = append(out, OpportunityItem{
				Title:      title,
				Risk:       parseRisk(fieldString(item, "risk", "risk_level")),
				Confidence: clampScore(conf),
			})
		}
		if len(out) > 0 {
			return PanelContent{Opportunities: out}
		}
	}
	var out []OpportunityItem
	for _, item := range listItems(text) {
		title, meta := opportunityParts(item)
		if title == "" {
			continue
		}
		conf := 0
		if _, n, ok := lastScore(meta); ok {
			conf = n
		}
		out = append(out, OpportunityItem{Title: title, Risk: parseRisk(meta), Confidence: clampScore(conf)})
	}
	if len(out) >= 2 {
		return PanelContent{Opportunities: out}
	}
	return PanelContent{Prose: text}
}

// opportunityParts splits a list line into its title and trailing risk or
// confidence metadata. Risk words in the title itself stay out of the grade:
// "High street revival — confidence 82" keeps its title and grades medium.
func opportunityParts(item string) (title, meta string) {
	if rest, tail := parenTail(item); tail != "" && isOppMeta(tail) {
		return rest, tail
	}
	if label, rest, ok := splitLabel(item); ok && isOppMeta(rest) {
		return label, rest
	}
	return strings.TrimSpace(item), ""
}

func isOppMeta(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "risk") || strings.Contains(lower, "confidence")
}
