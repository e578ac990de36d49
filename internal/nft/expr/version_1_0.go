//go:build nft_1_0

package expr

// TargetVersion is the libnftnl level this build encodes for.
const TargetVersion = "1.0.9"

const (
	fibSupported    = false
	socketSupported = false
)
