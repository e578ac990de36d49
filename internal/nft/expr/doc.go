// Package expr encodes nf_tables rule expressions.
//
// # Overview
//
// Every expression is a value of one of the concrete types in this package
// ([Meta], [Payload], [RawPayload], [Ct], [Immediate], [Verdict], [Bitwise],
// [Cmp], [Counter], [Log], [Lookup], [Nat], [Masquerade], [Reject],
// [Socket], [Fib], [Limit]). The set is closed: [Any] carries an unexported
// method, so only this package can add kinds.
//
// [Encode] writes one expression as the body of an NFTA_LIST_ELEM
// attribute: the kind name in NFTA_EXPR_NAME followed by the kind specific
// attributes nested in NFTA_EXPR_DATA. [Decode] is its inverse.
//
// # Registers
//
// Expressions exchange data through the kernel's per-packet registers. A
// [Payload] loads a header field into a register, a [Cmp] reads it back.
// Registers are never allocated here. The caller picks them per expression
// and is responsible for not clobbering a value a later expression in the
// same rule still needs:
//
//	[]expr.Any{
//		&expr.Meta{Key: expr.MetaIIFName, Register: expr.Reg1},
//		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: expr.IfName("lo")},
//		&expr.Verdict{Kind: expr.VerdictAccept},
//	}
//
// [RegVerdict] is reserved for verdicts. Using it as a data register is an
// [EncodingError].
//
// # Target versions
//
// Build tags select an older target library level: nft_1_0 or nft_1_1. The
// default is the newest level. Types exist in every build. A kind that the
// selected level lacks fails in [Encode]; see [Supported].
package expr
