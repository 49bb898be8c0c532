package pinentry

import "runtime"

// Secret holds user-entered passphrase bytes. It has no printable
// representation on purpose: reading the bytes takes a visible Expose
// call, so a secret cannot wander into logs through a stray %v. Call
// Destroy as soon as the bytes have been used.
type Secret struct {
	b []byte
}

func newSecret(b []byte) *Secret {
	s := &Secret{b: b}
	// Backstop for callers that forget Destroy. Explicit destruction is
	// still the contract; the finalizer only narrows the window.
	runtime.SetFinalizer(s, (*Secret).Destroy)
	return s
}

// Expose returns the secret bytes. The slice aliases the backing
// storage and is wiped by Destroy; copy it if it must outlive the
// Secret.
func (s *Secret) Expose() []byte {
	return s.b
}

// Len reports the secret length without exposing the bytes.
func (s *Secret) Len() int {
	return len(s.b)
}

// Destroy overwrites the backing storage with zeros. The Secret is
// empty afterwards. Calling it again is a no-op.
func (s *Secret) Destroy() {
	zero(s.b)
	s.b = nil
}

func (s *Secret) String() string {
	return "pinentry: secret redacted"
}

func (s *Secret) GoString() string {
	return "pinentry.Secret{redacted}"
}
