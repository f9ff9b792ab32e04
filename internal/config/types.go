package config

import "encoding/json"

const redacted = "[REDACTED]"

// Secret holds a credential such as the language model API key. Every
// printing and marshaling path shows a placeholder; call Value for the key.
type Secret string

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string { return s.mask() }

func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

// Value returns the raw credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

// UnmarshalText stores the raw value, so koanf and env decoding see the key.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
