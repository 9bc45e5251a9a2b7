package dpo

// Stats carries the per-document counters of one Encode call. Exactly one of
// Discarded/Successful is set per call, with Processed always 1, so sums
// aggregated with Add keep Discarded+Successful == Processed.
type Stats struct {
	Discarded  int `json:"discarded"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`

	// Character and byte counts of the rendered strings before and after text
	// normalization. When no normalization runs the normalized counts equal
	// the raw counts.
	RawCharsCount        int `json:"raw_chars_count"`
	RawBytesCount        int `json:"raw_bytes_count"`
	NormalizedCharsCount int `json:"normalized_chars_count"`
	NormalizedBytesCount int `json:"normalized_bytes_count"`

	NumPadTokens    int `json:"num_pad_tokens"`
	NumMaskedTokens int `json:"num_masked_tokens"`
	LossValidTokens int `json:"loss_valid_tokens"`
	NumTokens       int `json:"num_tokens"`
}

// Add accumulates o into s. Callers aggregate per-document stats across a run
// this way.
func (s *Stats) Add(o Stats) {
	s.Discarded += o.Discarded
	s.Processed += o.Processed
	s.Successful += o.Successful
	s.RawCharsCount += o.RawCharsCount
	s.RawBytesCount += o.RawBytesCount
	s.NormalizedCharsCount += o.NormalizedCharsCount
	s.NormalizedBytesCount += o.NormalizedBytesCount
	s.NumPadTokens += o.NumPadTokens
	s.NumMaskedTokens += o.NumMaskedTokens
	s.LossValidTokens += o.LossValidTokens
	s.NumTokens += o.NumTokens
}
