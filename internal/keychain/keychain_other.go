//go:build !darwin

package keychain

// NewSystemBackend fails outside macOS. The platform Keychain is not
// available there; use the badger or sqlite backend instead.
func NewSystemBackend() (Backend, error) {
	return nil, ErrUnsupported
}
