// Package scraper provides the two UPS data sources the agent can poll.
//
// Each source implements Scraper as a Fetch/Parse pair:
//   - ppbe (ppbe.go): HTTP GET of the PowerPanel Business agent's
//     /agent/ppbe.js/init_status.js, a JSON object wrapped in a JavaScript
//     variable assignment
//   - pwrstat (pwrstat.go): a STATUS request on pwrstatd's local unix socket,
//     answered with a header line and key=value lines in milli units
//
// Both produce a types.Measurement with the same field names for the same
// quantities. Parsing is all-or-nothing: a missing key or unparsable value
// fails the cycle and no partial record is returned.
//
// Errors wrap ErrFetch, ErrFormat or ErrField. New(config.Config) selects the
// source once at startup.
package scraper
