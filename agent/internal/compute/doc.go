// Package compute holds the pure numeric helpers shared by the status parsers:
// strict string-to-number parsing, milli-unit scaling, and the derived
// electrical fields (watts from rating and load, amps from watts and volts,
// runtime minutes from seconds).
//
// Nothing here does I/O or keeps state.
package compute
