package utils

import (
	"errors"
	"fmt"
	"net/url"
)

var ErrInvalidURL = errors.New("invalid url")

// ValidateURL checks that rawURL parses as an absolute http(s) URL. Kept on
// the standard library's net/url: no example repo imports a dedicated
// URL-validation library, and net/url already expresses the invariant (a
// scheme and host) the config layer needs.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidURL, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w %q: missing scheme or host", ErrInvalidURL, rawURL)
	}
	return nil
}
