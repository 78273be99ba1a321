// Package helpers provides small utilities shared by the daemon packages.
package helpers

// Wipe overwrites b with zeros. Used for secret key material decoded from
// requests.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
