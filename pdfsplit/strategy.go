package pdfsplit

// Strategy selects chunk sizes from the total page count.
//
// Defaults follow the page-count tiers: documents at or below
// SingleChunkMax pages become one chunk; up to MediumMax pages they are
// split into MediumChunkSize-page chunks; up to LargeMax pages into
// LargeChunkSize-page chunks. Beyond LargeMax the FallbackChunkSize
// applies.
type Strategy struct {
	SingleChunkMax    int
	MediumMax         int
	MediumChunkSize   int
	LargeMax          int
	LargeChunkSize    int
	FallbackChunkSize int
}

// DefaultStrategy returns the standard page-count strategy.
func DefaultStrategy() Strategy {
	return Strategy{
		SingleChunkMax:    30,
		MediumMax:         100,
		MediumChunkSize:   20,
		LargeMax:          500,
		LargeChunkSize:    15,
		FallbackChunkSize: 25,
	}
}

// ChunkSize returns the chunk size in pages for a document of totalPages.
// A return equal to or above totalPages means a single chunk.
func (s Strategy) ChunkSize(totalPages int) int {
	switch {
	case totalPages <= s.SingleChunkMax:
		return s.SingleChunkMax
	case totalPages <= s.MediumMax:
		return s.MediumChunkSize
	case totalPages <= s.LargeMax:
		return s.LargeChunkSize
	default:
		return s.FallbackChunkSize
	}
}

// PageRange is an inclusive 1-based page range with overlap marking.
type PageRange struct {
	Index      int
	StartPage  int
	EndPage    int
	HasOverlap bool
}

// PageCount returns the number of pages in the range.
func (r PageRange) PageCount() int {
	return r.EndPage - r.StartPage + 1
}

// Plan partitions totalPages into chunk ranges. Every chunk after the
// first starts one page before its natural boundary so adjacent chunks
// share one overlap page; the merge step deduplicates sentences produced
// twice from that page.
func (s Strategy) Plan(totalPages int) []PageRange {
	if totalPages <= 0 {
		return nil
	}

	size := s.ChunkSize(totalPages)
	if size >= totalPages {
		return []PageRange{{Index: 0, StartPage: 1, EndPage: totalPages}}
	}

	var ranges []PageRange
	for start := 1; start <= totalPages; start += size {
		end := start + size - 1
		if end > totalPages {
			end = totalPages
		}
		r := PageRange{Index: len(ranges), StartPage: start, EndPage: end}
		if r.Index > 0 {
			r.StartPage--
			r.HasOverlap = true
		}
		ranges = append(ranges, r)
	}
	return ranges
}
