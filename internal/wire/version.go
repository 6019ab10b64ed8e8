package wire

// VersionRange is an inclusive [Min,Max] band of protocol versions a side
// is willing to speak.
type VersionRange struct {
	Min uint16 `json:"min"`
	Max uint16 `json:"max"`
}

// Negotiate computes the highest protocol version both sides accept. It
// returns ok=false if the two ranges don't overlap.
func Negotiate(a, b VersionRange) (version uint16, ok bool) {
	lo := a.Min
	if b.Min > lo {
		lo = b.Min
	}
	hi := a.Max
	if b.Max < hi {
		hi = b.Max
	}
	if lo > hi {
		return 0, false
	}
	return hi, true
}

// CurrentVersion is the single protocol version this gateway speaks. The
// server always advertises the degenerate range [CurrentVersion,
// CurrentVersion]; compatibility reduces to whether the client accepts it.
const CurrentVersion uint16 = 1

// ServerRange is the version range advertised by this gateway.
var ServerRange = VersionRange{Min: CurrentVersion, Max: CurrentVersion}
