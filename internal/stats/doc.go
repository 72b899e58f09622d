// Package stats implements the run-scoped metric registry.
//
// A Registry stores named metrics of three kinds:
//
//   - Counter: a monotonic float sum
//   - Rate: the fraction of boolean observations that were true
//   - Trend: a distribution with avg, min, max and percentiles
//
// Counters and rates are updated with atomics; each trend has its own mutex,
// so workers never contend on a registry-wide lock once a metric exists.
// Trends keep every sample for exact percentiles and mirror them into an HDR
// histogram for live progress readouts.
//
// Registries are created per run and passed explicitly to workers and
// reporters; there is no package-level default.
package stats
