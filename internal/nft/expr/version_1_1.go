//go:build nft_1_1 && !nft_1_0

package expr

// TargetVersion is the libnftnl level this build encodes for.
const TargetVersion = "1.1.9"

const (
	fibSupported    = true
	socketSupported = false
)
