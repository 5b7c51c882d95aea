package pad

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the pad does not exist or its identifier is malformed.
	ErrNotFound = errors.New("signature pad not found")
	// ErrForbidden indicates the pad is not permitted to perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest indicates malformed input such as an unverifiable assertion.
	ErrBadRequest = errors.New("bad request")
	// ErrUnavailable indicates the persistence collaborator failed.
	ErrUnavailable = errors.New("signature pad storage unavailable")

	// ErrAlreadyValidated is returned when pairing or key issuance is
	// attempted on a pad that has completed pairing.
	ErrAlreadyValidated = fmt.Errorf("%w: signature pad already validated", ErrForbidden)
	// ErrNotValidated is returned when a pad that has not completed pairing
	// calls an endpoint that requires it.
	ErrNotValidated = fmt.Errorf("%w: signature pad not validated", ErrForbidden)
)
