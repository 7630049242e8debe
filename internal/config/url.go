package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/lloydcotten/common-mq/internal/provider"
)

var ErrInvalidURL = errors.New("invalid queue URL")

var queueURLPattern = regexp.MustCompile(`(?i)^[a-z0-9]+://[a-z\-0-9./]+`)

// ParseURL turns scheme://host[:port]/queueName into connection options.
// The scheme selects the provider. The queue name is the path without
// surrounding slashes, or the host when there is no path.
func ParseURL(raw string) (provider.Options, error) {
	if !queueURLPattern.MatchString(raw) {
		return provider.Options{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return provider.Options{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	opts := provider.Options{
		Provider: provider.Kind(strings.ToLower(u.Scheme)),
		Hostname: u.Hostname(),
	}
	if p := u.Port(); p != "" {
		if opts.Port, err = strconv.Atoi(p); err != nil {
			return provider.Options{}, fmt.Errorf("%w: port %q", ErrInvalidURL, p)
		}
	}
	name := u.Path
	if name == "" {
		name = u.Hostname()
	}
	opts.QueueName = strings.Trim(name, "/")
	return opts, nil
}
