//go:build !linux

package cmd

import (
	"errors"

	"grimm.is/nftwire/internal/nft"
)

var errNotLinux = errors.New("nf_tables is only available on Linux")

func dial(string) (nft.Transport, error) {
	return nil, errNotLinux
}

func linkIndex(string, string) (int, error) {
	return 0, errNotLinux
}
