// Package compare diffs a replayed response against the captured original.
package compare

// DefaultIgnoreHeaders are response headers that commonly vary between two
// otherwise identical responses. They are only skipped when the caller asks
// for noise filtering.
var DefaultIgnoreHeaders = []string{
	"date",
	"x-request-id",
	"x-correlation-id",
	"x-trace-id",
	"x-amzn-requestid",
	"x-amzn-trace-id",
	"cf-ray",
	"x-cache",
	"age",
	"expires",
	"last-modified",
	"etag",
	"set-cookie",
	"server-timing",
}
