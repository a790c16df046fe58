package contactkey

import (
	"fmt"
	"strings"
)

// Kind classifies a contact key by the channel it addresses.
type Kind string

const (
	KindPhone Kind = "phone"
	KindEmail Kind = "email"
)

// ParseError reports raw input that cannot denote any endpoint.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid contact identifier %q: %s", e.Raw, e.Reason)
}

// Key is the normalized identifier for a communication endpoint: a
// digits-only phone number (leading country-code "1" folded away) or a
// lowercase email address. Two raw strings denoting the same endpoint
// always normalize to the same Key, so key equality is an equivalence
// relation.
type Key string

// Normalize produces a stable Key from heterogeneous raw input:
// user-typed numbers, gateway-returned E.164-ish numbers, email strings.
func Normalize(raw string) (Key, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &ParseError{Raw: raw, Reason: "empty"}
	}

	if strings.ContainsRune(s, '@') {
		return Key(strings.ToLower(s)), nil
	}

	digits := digitsOnly(s)
	if digits == "" {
		return "", &ParseError{Raw: raw, Reason: "no digits and not an email"}
	}
	// An 11-digit number with a leading country-code "1" is the same
	// endpoint as its bare 10-digit form.
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return Key(digits), nil
}

// MustNormalize is Normalize for inputs known to be valid, e.g. fixtures.
func MustNormalize(raw string) Key {
	k, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return k
}

// Kind reports whether the key addresses a phone or an email endpoint.
func (k Key) Kind() Kind {
	if strings.ContainsRune(string(k), '@') {
		return KindEmail
	}
	return KindPhone
}

// String returns the canonical form of the key.
func (k Key) String() string { return string(k) }

// Display renders a phone key as "(AAA) BBB-CCCC" for 10-digit numbers.
// Email keys and unusual phone lengths are returned as-is.
func (k Key) Display() string {
	if k.Kind() == KindEmail || len(k) != 10 {
		return string(k)
	}
	return fmt.Sprintf("(%s) %s-%s", k[0:3], k[3:6], k[6:10])
}

// Match reports whether two raw identifiers denote the same endpoint.
// Invalid inputs never match anything.
func Match(a, b string) bool {
	ka, err := Normalize(a)
	if err != nil {
		return false
	}
	kb, err := Normalize(b)
	if err != nil {
		return false
	}
	return ka == kb
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
