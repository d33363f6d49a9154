// Package canonical provides the single deterministic JSON encoding used
// across triad, plus the hashes derived from it.
//
// Ledger payloads, media metadata documents, transaction digests and intent
// fingerprints all go through Marshal so that the same logical value always
// yields the same bytes. Constraints:
//   - no floats; amounts are integers in base units
//   - big integers are emitted as decimal strings
//   - no null; optional fields are omitted instead
package canonical
