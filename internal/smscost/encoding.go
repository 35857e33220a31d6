package smscost

import (
	"fmt"
	"strings"
)

// EncodingClass selects the per-segment character budget.
type EncodingClass int

const (
	Standard EncodingClass = iota // 7-bit default alphabet
	Extended                      // Unicode alphabet
)

// String returns a lower-case label used in JSON and logs.
func (c EncodingClass) String() string {
	if c == Extended {
		return "extended"
	}
	return "standard"
}

// MarshalText implements encoding.TextMarshaler.
func (c EncodingClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *EncodingClass) UnmarshalText(b []byte) error {
	switch string(b) {
	case "standard":
		*c = Standard
	case "extended":
		*c = Extended
	default:
		return fmt.Errorf("smscost: unknown encoding %q", b)
	}
	return nil
}

// DefaultCharset is the Polish diacritic set observed in production.
const DefaultCharset = "ąćęłńóśźżĄĆĘŁŃÓŚŹŻ"

// Classifier detects whether a message needs the extended encoding.
// Charset is per-deployment configuration; an empty Charset uses DefaultCharset.
type Classifier struct {
	Charset string
}

// Classify returns Extended when message contains any rune of the charset.
func (c Classifier) Classify(message string) EncodingClass {
	set := c.Charset
	if set == "" {
		set = DefaultCharset
	}
	if strings.ContainsAny(message, set) {
		return Extended
	}
	return Standard
}

// Classify uses the default charset.
func Classify(message string) EncodingClass {
	return Classifier{}.Classify(message)
}
