package config

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// secureSSLModes are the postgres sslmode values accepted in production.
var secureSSLModes = []string{"require", "verify-ca", "verify-full"}

// minProductionPasswordLen applies to database and Redis passwords.
const minProductionPasswordLen = 12

func validatePort(port, owner string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", owner)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", owner, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", owner, n)
	}
	return nil
}

func validateHost(host, owner string) error {
	return validateNoWhitespace(host, owner+" host")
}

// validateNoWhitespace rejects empty values and values with surrounding spaces,
// which usually come from a badly quoted env file.
func validateNoWhitespace(value, field string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s cannot be empty", field)
	case strings.TrimSpace(value) != value:
		return fmt.Errorf("%s cannot contain whitespace", field)
	}
	return nil
}

func validatePasswordStrength(password, owner, environment string) error {
	if environment == EnvironmentProduction && len(password) < minProductionPasswordLen {
		return fmt.Errorf("%s password must be at least %d characters in production", owner, minProductionPasswordLen)
	}
	return nil
}

func isSecureSSLMode(mode string) bool {
	return slices.Contains(secureSSLModes, mode)
}

// parseAndValidateURL parses rawURL and requires one of the given schemes and a host.
func parseAndValidateURL(rawURL string, schemes []string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return u, nil
}
