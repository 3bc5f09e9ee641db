package authapi

import "fmt"

// StatusError is a definitive rejection from the auth backend (non-2xx).
// Transport failures are not StatusErrors; callers use this distinction to
// decide whether a credential is dead or the network merely hiccuped.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth api: status %d", e.Status)
	}
	return fmt.Sprintf("auth api: status %d: %s", e.Status, e.Message)
}

// Definitive reports whether the server conclusively rejected the request
// (4xx). 5xx responses are treated like transport failures: the credential
// may still be good.
func (e *StatusError) Definitive() bool {
	return e.Status >= 400 && e.Status < 500
}
