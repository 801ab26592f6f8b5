package vm

// Register index layout (spec.md §3):
//
//	0-9    public   — argument/result marshalling with foreign functions
//	10-13  special  — foreign-call dispatch flags
//	14-23  private  — general-purpose scratch
const (
	PublicRegisterCount  = 10
	SpecialRegisterCount = 4
	PrivateRegisterCount = 10

	RegisterCount = PublicRegisterCount + SpecialRegisterCount + PrivateRegisterCount

	regSpecialBase = PublicRegisterCount
	regPrivateBase = PublicRegisterCount + SpecialRegisterCount

	// RegShareMemory (slot 10) is read as integer 0/non-zero to select the
	// Memory foreign-call shape over Plain (spec.md §4.4).
	RegShareMemory = regSpecialBase + 0
	// RegInvokeTrap (slot 11) selects the Trap foreign-call shape.
	RegInvokeTrap = regSpecialBase + 1
	// RegSpecialReserved0/1 (slots 12-13) are reserved, unused by the core.
	RegSpecialReserved0 = regSpecialBase + 2
	RegSpecialReserved1 = regSpecialBase + 3
)

// PublicRegisters is the argument/return window foreign functions see —
// exactly the first 10 register slots, passed by reference so a Plain or
// Memory shape foreign call can read and write it in place.
type PublicRegisters = [PublicRegisterCount]Value

// Registers is a process's full fixed register file.
type Registers struct {
	slots [RegisterCount]Value
}

// Get returns the value at idx, and whether idx was in range.
func (r *Registers) Get(idx int) (Value, bool) {
	if idx < 0 || idx >= RegisterCount {
		return Value{}, false
	}
	return r.slots[idx], true
}

// Set writes value at idx. Returns false (fatal per spec.md §7) if idx is
// out of range.
func (r *Registers) Set(idx int, value Value) bool {
	if idx < 0 || idx >= RegisterCount {
		return false
	}
	r.slots[idx] = value
	return true
}

// Public returns a copy of the public register window (slots 0-9) suitable
// for handing to a Plain or Memory shape foreign function.
func (r *Registers) Public() PublicRegisters {
	var out PublicRegisters
	copy(out[:], r.slots[:PublicRegisterCount])
	return out
}

// SetPublic writes back a public register window a foreign function was
// given, propagating any argument/result mutation it made.
func (r *Registers) SetPublic(regs PublicRegisters) {
	copy(r.slots[:PublicRegisterCount], regs[:])
}

// Flag reads a special-register slot as a boolean (0 == false, non-zero ==
// true), per spec.md's "all flag slots are read as integer 0/non-zero".
func (r *Registers) Flag(idx int) bool {
	v, _ := r.Get(idx)
	return v.AsInt() != 0
}
