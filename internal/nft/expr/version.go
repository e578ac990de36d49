package expr

// Supported reports whether expressions of the given kind can be encoded by
// this build.
func Supported(kind string) bool {
	switch kind {
	case "fib":
		return fibSupported
	case "socket":
		return socketSupported
	}
	_, ok := decoders[kind]
	return ok
}

// Kinds lists every expression kind known to this package, whether or not
// the target version enables it.
func Kinds() []string {
	return []string{
		"bitwise", "cmp", "counter", "ct", "fib", "immediate", "limit", "log",
		"lookup", "masq", "meta", "nat", "payload", "reject", "socket",
	}
}
