package wasm

// SignatureIndex is the index of a FunctionType interned in Types. Two structurally equal function types always
// share one SignatureIndex, even when declared by different modules.
type SignatureIndex uint32

// Types interns function signatures across every module of one compilation.
//
// Types is not safe for concurrent mutation. It is filled while translating modules and only read while compiling.
type Types struct {
	signatures []*FunctionType
	byKey      map[string]SignatureIndex
}

// NewTypes returns an empty Types.
func NewTypes() *Types {
	return &Types{byKey: map[string]SignatureIndex{}}
}

// Intern returns the SignatureIndex of ft, assigning a new one the first time a signature is seen.
func (t *Types) Intern(ft *FunctionType) SignatureIndex {
	key := ft.String()
	if idx, ok := t.byKey[key]; ok {
		return idx
	}
	idx := SignatureIndex(len(t.signatures))
	t.signatures = append(t.signatures, ft)
	t.byKey[key] = idx
	return idx
}

// Signature returns the interned FunctionType at idx.
func (t *Types) Signature(idx SignatureIndex) *FunctionType {
	return t.signatures[idx]
}

// Len returns the number of distinct signatures.
func (t *Types) Len() int {
	return len(t.signatures)
}
