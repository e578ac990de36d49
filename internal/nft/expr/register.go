package expr

import "fmt"

// Register is a kernel scratch register index.
type Register uint32

// 128 bit registers. The 32 bit registers alias the same storage: Reg32(0)
// through Reg32(3) overlap Reg1.
const (
	RegVerdict Register = 0
	Reg1       Register = 1
	Reg2       Register = 2
	Reg3       Register = 3
	Reg4       Register = 4

	reg32Base  = 8
	reg32Count = 16
)

// Reg32 returns the n-th 32 bit register, NFT_REG32_00 + n.
func Reg32(n int) Register {
	return Register(reg32Base + n)
}

func (r Register) valid() bool {
	return (r >= Reg1 && r <= Reg4) || (r >= reg32Base && r < reg32Base+reg32Count)
}

func (r Register) String() string {
	switch {
	case r == RegVerdict:
		return "verdict"
	case r >= Reg1 && r <= Reg4:
		return fmt.Sprintf("reg%d", uint32(r))
	case r >= reg32Base && r < reg32Base+reg32Count:
		return fmt.Sprintf("reg32_%02d", uint32(r)-reg32Base)
	}
	return fmt.Sprintf("reg(%d)", uint32(r))
}

// checkRegister validates a required data register.
func checkRegister(kind, field string, r Register) error {
	if r == RegVerdict {
		return missing(kind, field)
	}
	if !r.valid() {
		return invalid(kind, field, "register %d out of range", uint32(r))
	}
	return nil
}

// checkOptionalRegister validates a register that may be left unset.
func checkOptionalRegister(kind, field string, r Register) error {
	if r == RegVerdict {
		return nil
	}
	return checkRegister(kind, field, r)
}
