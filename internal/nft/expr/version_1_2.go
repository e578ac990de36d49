//go:build !nft_1_0 && !nft_1_1

package expr

// TargetVersion is the libnftnl level this build encodes for.
const TargetVersion = "1.2.0"

const (
	fibSupported    = true
	socketSupported = true
)
