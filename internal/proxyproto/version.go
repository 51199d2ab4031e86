package proxyproto

import (
	"fmt"
	"strings"
)

// Version selects which PROXY protocol header, if any, is sent to the
// back-end.
type Version int

const (
	Disabled Version = iota
	V1
	V2
)

// ParseVersion parses "disabled", "v1" or "v2", ignoring case and
// surrounding whitespace.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return Disabled, nil
	case "v1":
		return V1, nil
	case "v2":
		return V2, nil
	default:
		return Disabled, fmt.Errorf("invalid proxy protocol version %q (expected disabled|v1|v2)", s)
	}
}

func (v Version) String() string {
	switch v {
	case Disabled:
		return "disabled"
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// Set implements pflag.Value.
func (v *Version) Set(s string) error {
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Type implements pflag.Value.
func (*Version) Type() string {
	return "version"
}

// UnmarshalText lets Version be decoded from configuration files.
func (v *Version) UnmarshalText(text []byte) error {
	return v.Set(string(text))
}

// MarshalText is the inverse of UnmarshalText.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
