package mntletter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flashmob/go-guerrilla/mail/rfc5321"
)

var ErrInvalidAddress = errors.New("invalid email address")

type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func AddressOf(email string) Address {
	return Address{Email: email}
}

func (a Address) String() string {
	if len(a.Name) == 0 {
		return a.Email
	}
	return fmt.Sprintf("\"%s\" <%s>", a.Name, a.Email)
}

// ParseAddress accepts a bare local-part@domain where the domain is a dotted host name ending in an alphabetic
// top level label. Display names, angle brackets, address lists and address literals are rejected.
func ParseAddress(email string) (Address, error) {
	if len(email) < 3 || len(email) > 254 {
		return Address{}, fmt.Errorf("%w: bad length", ErrInvalidAddress)
	}
	if strings.ContainsAny(email, "<>,;[] \t\r\n") {
		return Address{}, fmt.Errorf("%w: %q is not a bare address", ErrInvalidAddress, email)
	}
	// the rfc5322 parser does not return on some inputs without an @, it only gets to see plausible addresses
	if strings.Count(email, "@") != 1 {
		return Address{}, fmt.Errorf("%w: expected exactly one @", ErrInvalidAddress)
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || len(local) > 64 {
		return Address{}, fmt.Errorf("%w: bad local part", ErrInvalidAddress)
	}
	if !validDomain(domain) {
		return Address{}, fmt.Errorf("%w: bad domain %q", ErrInvalidAddress, domain)
	}

	var parser rfc5321.RFC5322
	list, err := parser.Address([]byte(email))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(list.List) != 1 {
		return Address{}, fmt.Errorf("%w: expected exactly one address", ErrInvalidAddress)
	}

	single := list.List[0]
	if single.DisplayName != "" || single.LocalPart == "" || len(single.LocalPart) > 64 {
		return Address{}, fmt.Errorf("%w: bad local part", ErrInvalidAddress)
	}
	if !validDomain(single.Domain) {
		return Address{}, fmt.Errorf("%w: bad domain %q", ErrInvalidAddress, single.Domain)
	}
	return AddressOf(email), nil
}

func ValidAddress(email string) bool {
	_, err := ParseAddress(email)
	return err == nil
}

func validDomain(domain string) bool {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
	}

	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
