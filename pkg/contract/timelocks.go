package contract

import "fmt"

// Timelocks are the escrow windows in seconds, relative to the time an
// escrow is created.
type Timelocks struct {
	SrcWithdrawal   uint64 `json:"srcWithdrawal"`
	SrcCancellation uint64 `json:"srcCancellation"`
	DstWithdrawal   uint64 `json:"dstWithdrawal"`
	DstCancellation uint64 `json:"dstCancellation"`
}

// DefaultTimelocks gives the maker one hour to reveal on the destination
// chain and the resolver another hour to claim the source escrow.
var DefaultTimelocks = Timelocks{
	SrcWithdrawal:   2 * 3600,
	SrcCancellation: 4 * 3600,
	DstWithdrawal:   1 * 3600,
	DstCancellation: 3 * 3600,
}

// Validate checks that every withdraw window closes before its cancel window
// opens and that the destination secret is revealed while the source escrow
// can still be claimed.
func (t Timelocks) Validate() error {
	if t.DstWithdrawal == 0 {
		return fmt.Errorf("%w: zero destination withdrawal window", ErrInvalidTimelocks)
	}
	if t.SrcWithdrawal >= t.SrcCancellation {
		return fmt.Errorf("%w: src withdrawal %v >= src cancellation %v", ErrInvalidTimelocks, t.SrcWithdrawal, t.SrcCancellation)
	}
	if t.DstWithdrawal >= t.DstCancellation {
		return fmt.Errorf("%w: dst withdrawal %v >= dst cancellation %v", ErrInvalidTimelocks, t.DstWithdrawal, t.DstCancellation)
	}
	if t.DstWithdrawal >= t.SrcWithdrawal {
		return fmt.Errorf("%w: dst withdrawal %v >= src withdrawal %v", ErrInvalidTimelocks, t.DstWithdrawal, t.SrcWithdrawal)
	}
	return nil
}
