//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseEscortID checks that parsing never panics and that accepted input
// always round-trips through String.
func FuzzParseEscortID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE escorts;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseEscortID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Error("parsed ID must never be nil")
		}
		roundTrip, err := ParseEscortID(id.String())
		if err != nil {
			t.Errorf("valid ID failed round-trip: %v", err)
		}
		if roundTrip != id {
			t.Error("round-trip changed ID value")
		}
		if !utf8.ValidString(id.String()) {
			t.Error("String() produced invalid UTF-8")
		}
	})
}
