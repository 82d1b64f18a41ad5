//go:build !linux

package engine

func init() {
	// SO_REUSEPORT has no portable equivalent outside Linux/BSD. The
	// listener still binds and serves correctly without it; it just
	// loses the multi-process load-balancing behavior the Linux
	// backend gets for free.
}
