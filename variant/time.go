package variant

import (
	"time"

	"github.com/openopc/go-opcda/binding"
)

// filetimeEpochDiff is the number of seconds between the native timestamp
// epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochDiff = 11644473600

// TimeFromFiletime converts a native 64-bit timestamp to a time.Time in UTC.
// A zero filetime converts to the zero time.
func TimeFromFiletime(ft binding.Filetime) time.Time {
	ticks := ft.Uint64()
	if ticks == 0 {
		return time.Time{}
	}

	secs := int64(ticks/10_000_000) - filetimeEpochDiff
	nsecs := int64(ticks%10_000_000) * 100

	return time.Unix(secs, nsecs).UTC()
}

// FiletimeFromTime converts a time.Time to the native 64-bit timestamp.
// Times before the native epoch, including the zero time, convert to a zero
// filetime.
func FiletimeFromTime(t time.Time) binding.Filetime {
	if t.IsZero() {
		return binding.Filetime{}
	}

	secs := t.Unix() + filetimeEpochDiff
	if secs < 0 {
		return binding.Filetime{}
	}
	ticks := uint64(secs)*10_000_000 + uint64(t.Nanosecond())/100

	return binding.FiletimeFromUint64(ticks)
}
