// Package coordinator runs the research capability's fixed three-step plan.
//
// The plan drives three internal sub-tools: gather (search provider), rates
// (FX provider, keyed off the principal's currency), and compose (writing
// provider plus local markdown rendering). gather and rates read disjoint
// slices of the invocation and run concurrently; compose joins their results.
//
// Sub-tools exist only inside this package. They have no registry entry and
// no route, and their invocation records are constructible only under a
// parent invocation, so nothing outside the coordinator can reach one.
//
// # Failure policy
//
// All three sub-tools are required. Each re-checks its own remit before
// calling out; a remit violation, a provider failure, or a lost race to a
// sibling's failure all fail the whole invocation as a capability failure.
// Nothing partial is ever returned.
package coordinator
