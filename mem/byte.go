package mem

// AbstractByte is the state of one byte of simulated memory. Pointer
// provenance is tracked by borrow stacks, not by byte contents.
type AbstractByte uint8

const (
	// Uninit is a byte that has never been written or was de-initialized.
	Uninit AbstractByte = iota
	// Init is a byte holding meaningful data.
	Init
)

// IsInit reports whether the byte holds data.
func (b AbstractByte) IsInit() bool {
	return b == Init
}

func (b AbstractByte) String() string {
	switch b {
	case Uninit:
		return "UU"
	case Init:
		return "II"
	default:
		return "??"
	}
}

// ParseAbstractByte is the inverse of AbstractByte.String.
func ParseAbstractByte(s string) (AbstractByte, bool) {
	switch s {
	case "UU":
		return Uninit, true
	case "II":
		return Init, true
	}
	return Uninit, false
}
