package urbit

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// An @da is a 128-bit atom: 64 bits of seconds since the Urbit epoch
// (292,277,024,400 years before 1970) followed by 64 bits of fractional second.
var (
	daUnixEpoch, _ = new(big.Int).SetString("170141184475152167957503069145530368000", 10)
	daSecond, _    = new(big.Int).SetString("18446744073709551616", 10)
	nanosPerSecond = big.NewInt(int64(time.Second))
)

// DAToUnixNano converts a decimal @da (dots allowed, as in "170.141.184...")
// to Unix nanoseconds. Dates outside the int64 range are rejected.
func DAToUnixNano(da string) (int64, error) {
	digits := strings.ReplaceAll(strings.TrimPrefix(da, "/"), ".", "")
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok || digits == "" {
		return 0, fmt.Errorf("invalid @da %q", da)
	}

	n.Sub(n, daUnixEpoch)
	n.Mul(n, nanosPerSecond)
	n.Quo(n, daSecond)
	if !n.IsInt64() {
		return 0, fmt.Errorf("@da %q out of range", da)
	}
	return n.Int64(), nil
}

// UnixNanoToDA returns the smallest @da that DAToUnixNano maps back to nanos.
// Only post-1970 instants are supported.
func UnixNanoToDA(nanos int64) string {
	n := big.NewInt(nanos)
	n.Mul(n, daSecond)
	n.Add(n, new(big.Int).Sub(nanosPerSecond, big.NewInt(1)))
	n.Quo(n, nanosPerSecond)
	n.Add(n, daUnixEpoch)
	return n.String()
}
