package dpo

// Example is the model-ready output of one successful Encode call: six
// parallel integer rows, each exactly the configured maximum sequence length.
type Example struct {
	ChosenInputIDs      []int32
	ChosenAttentionMask []int32
	ChosenLabels        []int32

	RejectedInputIDs      []int32
	RejectedAttentionMask []int32
	RejectedLabels        []int32
}

// Rows returns the six rows in the serialization order expected by shard
// writers: chosen_input_ids, chosen_attention_mask, chosen_labels,
// rejected_input_ids, rejected_attention_mask, rejected_labels.
func (e *Example) Rows() [][]int32 {
	return [][]int32{
		e.ChosenInputIDs,
		e.ChosenAttentionMask,
		e.ChosenLabels,
		e.RejectedInputIDs,
		e.RejectedAttentionMask,
		e.RejectedLabels,
	}
}

// Tensor returns the rows stacked with a leading singleton batch dimension,
// shape (1, 6, max_seq_length).
func (e *Example) Tensor() [][][]int32 {
	return [][][]int32{e.Rows()}
}

// SeqLen returns the common row length.
func (e *Example) SeqLen() int {
	return len(e.ChosenInputIDs)
}
