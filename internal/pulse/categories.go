package pulse

// Category identifies one dashboard panel and its agent query.
type Category string

const (
	CategoryPulse         Category = "pulse"
	CategoryVelocity      Category = "velocity"
	CategoryRegional      Category = "regional"
	CategoryWeather       Category = "weather"
	CategoryThemes        Category = "themes"
	CategoryOpportunities Category = "opportunities"
)

// Categories returns all categories in panel order.
func Categories() []Category {
	return []Category{
		CategoryPulse,
		CategoryVelocity,
		CategoryRegional,
		CategoryWeather,
		CategoryThemes,
		CategoryOpportunities,
	}
}

// prompts are the fixed agent queries, one per category. The agent is a UK
// cultural intelligence analyst; the prompts ask for the shapes the panels
// render.
var prompts = map[Category]string{
	CategoryPulse: "What are the top 5 trending topics in the UK right now? " +
		"For each, name the source platform and give a short title.",
	CategoryVelocity: "Give trend velocity scores for today's top UK topics. " +
		"For each topic, name the platform it is moving on and a velocity score from 0 to 100.",
	CategoryRegional: "What's trending regionally across the UK? Cover London, " +
		"Manchester and the North, Birmingham and the Midlands, Scotland, Wales, " +
		"and Northern Ireland with one trend each.",
	CategoryWeather: "Generate a UK cultural weather report: the current cultural " +
		"temperature (Hot or Moderate) with a short description, a 24-hour forecast, " +
		"and a weekly outlook.",
	CategoryThemes: "What are the emerging cultural themes in the UK this week? " +
		"List the top themes by name.",
	CategoryOpportunities: "What are today's brand opportunities in the UK? For each, " +
		"give a title, a risk level (low, medium, or high), and a confidence score from 0 to 100.",
}

// placeholders are shown for a category whose fetch failed. The placeholder
// is the only visible signal; errors stay in the logs.
var placeholders = map[Category]string{
	CategoryPulse:         "Live trend data unavailable. The cultural pulse will return on the next refresh.",
	CategoryVelocity:      "Velocity scores unavailable right now. Check back shortly.",
	CategoryRegional:      "Regional signals unavailable. Coverage across the UK resumes on the next refresh.",
	CategoryWeather:       "Cultural weather report unavailable. Forecast resumes shortly.",
	CategoryThemes:        "Emerging themes unavailable right now. Check back shortly.",
	CategoryOpportunities: "Brand opportunity data unavailable. Scores return on the next refresh.",
}

// Prompt returns the fixed agent query for a category.
func Prompt(c Category) string {
	return prompts[c]
}

// Placeholder returns the fixed fallback text for a category.
func Placeholder(c Category) string {
	return placeholders[c]
}
