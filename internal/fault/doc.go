// Package fault defines the closed failure taxonomy for the request pipeline,
// the mapping from failure kinds to HTTP status codes, and the reporter that
// logs failures without echoing payload content across the trust boundary.
package fault
