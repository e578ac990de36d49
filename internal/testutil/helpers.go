// Package testutil holds helpers shared by tests that need a real kernel.
package testutil

import (
	"os"
	"runtime"
	"testing"

	"github.com/vishvananda/netns"
)

// NetlinkEnv enables tests that talk to the kernel's nf_tables.
const NetlinkEnv = "NFTWIRE_NETLINK_TEST"

// RequireNetlink skips the test unless NFTWIRE_NETLINK_TEST is set and the
// process may create network namespaces.
func RequireNetlink(t *testing.T) {
	t.Helper()
	if os.Getenv(NetlinkEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", NetlinkEnv)
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}

// WithNetns runs fn with the calling thread inside a fresh, unnamed
// network namespace, so nothing the test commits touches the host. The
// namespace is destroyed when fn returns.
func WithNetns(t *testing.T, fn func(ns netns.NsHandle)) {
	t.Helper()
	RequireNetlink(t)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		t.Fatalf("get current netns: %v", err)
	}
	defer orig.Close()

	ns, err := netns.New()
	if err != nil {
		t.Fatalf("create netns: %v", err)
	}
	defer ns.Close()
	defer func() {
		if err := netns.Set(orig); err != nil {
			t.Errorf("restore netns: %v", err)
		}
	}()

	fn(ns)
}
