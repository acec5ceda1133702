package wire

import "fmt"

// Validate checks body against a libwayland-style signature before the
// message reaches a handler. Signature characters:
//
//	i int, u uint, f fixed, s string, o object, n new_id, a array, h fd
//
// A '?' before s or o marks the argument nullable. Leading digits (the
// "since" version libwayland encodes) are ignored.
func Validate(signature string, body []byte, fds int) error {
	off := 0
	nullable := false
	needFDs := 0

	word := func() (uint32, error) {
		if off+4 > len(body) {
			return 0, fmt.Errorf("%w: body too short for signature %q", ErrMalformed, signature)
		}
		v := byteOrder.Uint32(body[off:])
		off += 4
		return v, nil
	}

	for _, c := range signature {
		switch c {
		case '?':
			nullable = true
			continue
		case 'i', 'u', 'f':
			if _, err := word(); err != nil {
				return err
			}
		case 'o':
			id, err := word()
			if err != nil {
				return err
			}
			if id == 0 && !nullable {
				return fmt.Errorf("%w: null object for non-nullable argument", ErrMalformed)
			}
		case 'n':
			id, err := word()
			if err != nil {
				return err
			}
			if id == 0 {
				return fmt.Errorf("%w: null new_id", ErrMalformed)
			}
		case 's', 'a':
			n, err := word()
			if err != nil {
				return err
			}
			if n == 0 {
				if c == 's' && !nullable {
					return fmt.Errorf("%w: null string for non-nullable argument", ErrMalformed)
				}
				break
			}
			padded := (int(n) + 3) &^ 3
			if off+padded > len(body) {
				return fmt.Errorf("%w: argument overruns body", ErrMalformed)
			}
			if c == 's' && body[off+int(n)-1] != 0 {
				return fmt.Errorf("%w: string not NUL terminated", ErrMalformed)
			}
			off += padded
		case 'h':
			needFDs++
		default:
			if c < '0' || c > '9' {
				return fmt.Errorf("%w: bad signature character %q", ErrMalformed, c)
			}
		}
		nullable = false
	}

	if off != len(body) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(body)-off)
	}
	if needFDs > fds {
		return fmt.Errorf("%w: need %d, have %d", ErrMissingFD, needFDs, fds)
	}
	return nil
}

// CountFDs returns how many descriptors a signature carries.
func CountFDs(signature string) int {
	n := 0
	for _, c := range signature {
		if c == 'h' {
			n++
		}
	}
	return n
}
