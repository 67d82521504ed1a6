// ABOUTME: Output contracts for the three research providers
// ABOUTME: Wired into the provider clients at gateway assembly time

package coordinator

import "github.com/2389/ward-gateway/internal/contract"

// SearchProviderSchema validates the search provider's raw output before the
// gather sub-tool uses it.
var SearchProviderSchema = contract.MustCompile("search-provider", `{
	"type": "object",
	"properties": {
		"results": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"url": {"type": "string"},
					"snippet": {"type": "string"}
				},
				"required": ["title", "url", "snippet"]
			}
		}
	},
	"required": ["results"]
}`)

// RatesProviderSchema validates the FX provider's raw output before the
// rates sub-tool uses it.
var RatesProviderSchema = contract.MustCompile("rates-provider", `{
	"type": "object",
	"properties": {
		"base": {"type": "string"},
		"quote": {"type": "string"},
		"rate": {"type": "number"}
	},
	"required": ["base", "quote", "rate"]
}`)

// ComposeProviderSchema validates the writing provider's raw output before
// the compose sub-tool uses it.
var ComposeProviderSchema = contract.MustCompile("compose-provider", `{
	"type": "object",
	"properties": {
		"markdown": {"type": "string", "minLength": 1}
	},
	"required": ["markdown"]
}`)
