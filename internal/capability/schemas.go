// ABOUTME: Compiled request and response contracts for the public endpoints
// ABOUTME: Strict on both sides so unknown fields never cross the boundary

package capability

import "github.com/2389/ward-gateway/internal/contract"

var askRequestSchema = contract.MustCompile("ask-request", `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"question": {"type": "string", "minLength": 1, "maxLength": 2000},
		"topic": {"type": "string", "enum": ["budgeting", "saving", "debt", "investing", "taxes"]}
	},
	"required": ["question"]
}`)

var askResponseSchema = contract.MustCompile("ask-response", `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"answer": {"type": "string", "minLength": 1},
		"disclaimer": {"type": "string", "minLength": 1}
	},
	"required": ["answer", "disclaimer"]
}`)

var researchRequestSchema = contract.MustCompile("research-request", `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"query": {"type": "string", "minLength": 1, "maxLength": 500},
		"max_sources": {"type": "integer", "minimum": 1, "maximum": 5}
	},
	"required": ["query"]
}`)

var researchResponseSchema = contract.MustCompile("research-response", `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"summary_html": {"type": "string", "minLength": 1},
		"sources": {
			"type": "array",
			"maxItems": 5,
			"items": {
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"title": {"type": "string"},
					"url": {"type": "string"},
					"snippet": {"type": "string"}
				},
				"required": ["title", "url", "snippet"]
			}
		},
		"fx": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"base": {"type": "string"},
				"quote": {"type": "string"},
				"rate": {"type": "number"}
			},
			"required": ["base", "quote", "rate"]
		}
	},
	"required": ["summary", "summary_html", "sources", "fx"]
}`)

// AdviceProviderSchema is the contract the advice provider's raw output must
// satisfy. Extra provider fields are tolerated here and stripped by the
// handler before the strict response contract applies.
var AdviceProviderSchema = contract.MustCompile("advice-provider", `{
	"type": "object",
	"properties": {
		"answer": {"type": "string", "minLength": 1},
		"disclaimer": {"type": "string", "minLength": 1}
	},
	"required": ["answer", "disclaimer"]
}`)
