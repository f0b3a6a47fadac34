package llm

import (
	"fmt"
	"strings"
)

// Per-token prices in tenths of a micro-dollar (1e-7 USD), derived from
// per-million-token list prices. Integer arithmetic keeps cost strings
// exact at six fraction digits.
type pricing struct {
	input  int64
	output int64
}

var priceTable = []struct {
	match string
	pricing
}{
	{"opus", pricing{input: 150, output: 750}},      // $15 / $75 per 1M
	{"sonnet", pricing{input: 30, output: 150}},     // $3 / $15 per 1M
	{"sonar", pricing{input: 2, output: 2}},         // $0.20 per 1M flat
	{"perplexity", pricing{input: 2, output: 2}},
}

var defaultPricing = pricing{input: 30, output: 150}

func priceFor(model string) pricing {
	m := strings.ToLower(model)
	for _, entry := range priceTable {
		if strings.Contains(m, entry.match) {
			return entry.pricing
		}
	}
	return defaultPricing
}

// EstimateCost returns the request cost in USD as a fixed-point decimal
// string with six fraction digits, e.g. "0.008100". Unknown models are
// priced at the sonnet rate.
func EstimateCost(model string, inputTokens, outputTokens int) string {
	p := priceFor(model)
	// Total in tenths of micro-dollars, rounded half-up to micro-dollars.
	tenths := int64(inputTokens)*p.input + int64(outputTokens)*p.output
	micro := (tenths + 5) / 10
	return fmt.Sprintf("%d.%06d", micro/1_000_000, micro%1_000_000)
}
