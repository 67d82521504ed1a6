// Package profile supplies optional read-only context about a principal:
// the locale and currency used to personalize capability calls.
//
// Two sources exist: an HTTP client for the member profile service, and a
// read-only SQLite source for local development. Both are consulted with the
// verified subject id only, never with anything from a request payload, and
// a failed or missing fetch degrades to Defaults instead of failing the
// request.
package profile
