// Package clock assigns the canonical ordering key of every record.
//
// Two rules govern the key:
//
//	R1 (timestamp): a record's time is the one embedded in its record key,
//	    truncated to milliseconds. Kinds without a record key use createdAt.
//	R2 (ingestion): every record accepted for ordering takes the next value
//	    of a strictly increasing sequence, in the order it was read.
//
// The total order function TotalOrderLess compares (timestamp, sequence)
// pairs, so records with equal timestamps keep their relative input order
// and the order is a pure function of the input.
//
// Note: Sequence is not goroutine-safe. A run has exactly one reader
// assigning sequence numbers.
package clock

// Sequence is the ingestion counter of R2. Not goroutine-safe; see package doc.
type Sequence struct {
	n uint64
}

// Tick returns the next sequence number. The first call returns 1.
func (s *Sequence) Tick() uint64 {
	s.n++
	return s.n
}

// Value returns the last number handed out without advancing.
func (s *Sequence) Value() uint64 { return s.n }

// Set positions the counter so the next Tick returns v+1.
func (s *Sequence) Set(v uint64) { s.n = v }

// TotalOrderLess defines the deterministic order of the reorder engine.
// Record A sorts before record B if:
//
//	tsA < tsB, or
//	tsA == tsB and seqA < seqB
func TotalOrderLess(tsA int64, seqA uint64, tsB int64, seqB uint64) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return seqA < seqB
}
