// Package analyzer classifies JSON response bodies into envelope shapes and
// extracts the identifiers and bearer tokens later workflow steps need.
//
// A body is classified into exactly one Envelope variant:
//
//	StandardEnvelope  {"result": ..., "message": ..., "data": ...}
//	PagedEnvelope     {"content": [...], "totalElements": n}, also when
//	                  nested as the data of a standard envelope
//	BareArray         [...]
//	RawObject         anything else, including non-JSON bodies
//
// Empty and null data yield no id, whatever the hints ask for. Analyze never
// fails. A body it cannot make sense of yields an Analysis with
// no extracted id, and callers continue with a fallback value.
//
// The token helpers (SplitToken, DecodeSegment, NumericClaim) are pure and
// independent of HTTP.
package analyzer
