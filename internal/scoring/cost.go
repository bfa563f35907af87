package scoring

import "fmt"

// representativeInputK is the nominal input size, in thousands of tokens,
// used to rank providers by price before any call is made.
const representativeInputK = 0.8

// Pricing is a provider's published rate card in USD.
type Pricing struct {
	PerImage   float64 `json:"per_image"`
	PerKInput  float64 `json:"per_1k_input"`
	PerKOutput float64 `json:"per_1k_output"`
}

// Estimate returns the cost of one call with the given token usage.
func (p Pricing) Estimate(inputTokens, outputTokens int) float64 {
	return p.PerImage +
		float64(inputTokens)/1000*p.PerKInput +
		float64(outputTokens)/1000*p.PerKOutput
}

// CheapestRank is the per-call price estimate used by the cheapest mode.
// It ignores output tokens and historical performance.
func (p Pricing) CheapestRank() float64 {
	return p.PerImage + p.PerKInput*representativeInputK
}

// FormatCost renders a USD amount, switching to milli-dollars below $0.001.
func FormatCost(usd float64) string {
	if usd < 0.001 {
		return fmt.Sprintf("$%.3fm", usd*1000)
	}
	return fmt.Sprintf("$%.4f", usd)
}
