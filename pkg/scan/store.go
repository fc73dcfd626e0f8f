package scan

// Candidate is an address believed to currently hold the value of
// interest, together with the value observed by the last scan that
// confirmed it and the writability of the region it was read from.
type Candidate struct {
	Addr     uint64
	Value    Value
	Writable bool
}

// candidateStore is the working set of candidates between scans.
// Insertion order is preserved and addresses are unique. A first scan
// replaces the store wholesale; next scans shrink it in place.
type candidateStore struct {
	cands []Candidate
	index map[uint64]int
}

func newCandidateStore() *candidateStore {
	return &candidateStore{index: make(map[uint64]int)}
}

func (st *candidateStore) add(c Candidate) {
	if _, ok := st.index[c.Addr]; ok {
		return
	}
	st.index[c.Addr] = len(st.cands)
	st.cands = append(st.cands, c)
}

func (st *candidateStore) len() int {
	return len(st.cands)
}

// replace rebuilds the store from kept, preserving kept's order.
func (st *candidateStore) replace(kept []Candidate) {
	st.cands = st.cands[:0]
	st.index = make(map[uint64]int, len(kept))
	for _, c := range kept {
		st.add(c)
	}
}

// snapshot returns a copy of the candidates for the caller to display;
// the store itself stays owned by the session.
func (st *candidateStore) snapshot() []Candidate {
	out := make([]Candidate, len(st.cands))
	copy(out, st.cands)
	return out
}
