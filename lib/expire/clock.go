package expire

import "time"

// Now returns the current time in unix milliseconds. Tests replace it to
// control the clock.
var Now = func() int64 {
	return time.Now().UnixMilli()
}

// At converts a relative expiration of ttl units into an absolute deadline.
// A ttl <= 0 yields a deadline that is already reached at now.
func At(now int64, ttl int64, unit time.Duration) int64 {
	if ttl <= 0 {
		return now
	}
	return now + ttl*int64(unit/time.Millisecond)
}

// Remaining reports the time left until at in the given unit, following the
// reply conventions of TTL: -1 if the key has no expiration. Seconds are
// rounded to the nearest value.
func Remaining(at, now int64, unit time.Duration) int64 {
	if at == 0 {
		return -1
	}
	left := at - now
	if left < 0 {
		left = 0
	}
	ms := int64(unit / time.Millisecond)
	if ms <= 1 {
		return left
	}
	return (left + ms/2) / ms
}

// Absolute converts an absolute deadline (unix ms) into the given unit for
// EXPIRETIME style replies. Keys without expiration report -1.
func Absolute(at int64, unit time.Duration) int64 {
	if at == 0 {
		return -1
	}
	return at / int64(unit/time.Millisecond)
}
