//go:build linux

package cmd

import (
	"fmt"
	"strings"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"grimm.is/nftwire/internal/nft"
)

func dial(namespace string) (nft.Transport, error) {
	t, err := nft.DialSocket(namespace)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// linkIndex returns the index of an interface in namespace, or in the
// current namespace when namespace is empty.
func linkIndex(namespace, name string) (int, error) {
	h := &netlink.Handle{}
	if namespace != "" {
		var (
			ns  netns.NsHandle
			err error
		)
		if strings.HasPrefix(namespace, "/") {
			ns, err = netns.GetFromPath(namespace)
		} else {
			ns, err = netns.GetFromName(namespace)
		}
		if err != nil {
			return 0, fmt.Errorf("open network namespace %q: %w", namespace, err)
		}
		defer ns.Close()
		if h, err = netlink.NewHandleAt(ns); err != nil {
			return 0, fmt.Errorf("netlink handle in %q: %w", namespace, err)
		}
		defer h.Close()
	}
	link, err := h.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("interface %s: %w", name, err)
	}
	return link.Attrs().Index, nil
}
