package util

import "math/rand/v2"

const (
	hexDigits    = "0123456789abcdef"
	alnumSymbols = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	eventIDPrefix   = "evt_"
	eventIDLength   = 24
	lockTokenLength = 32
)

// randomString draws n symbols from charset. Not suitable for secrets.
func randomString(charset string, n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}

// GenerateRandomHex returns n lowercase hex digits.
func GenerateRandomHex(n int) string {
	return randomString(hexDigits, n)
}

// GenerateEventID returns an event log ID such as "evt_3f9a…".
func GenerateEventID() string {
	return eventIDPrefix + GenerateRandomHex(eventIDLength)
}

// GenerateLockToken returns the owner token written into a Redis tick lock so
// only the holder can release it.
func GenerateLockToken() string {
	return randomString(alnumSymbols, lockTokenLength)
}
