package smscost

import "fmt"

// Characters per segment of a concatenated SMS, by encoding.
const (
	StandardBudget = 153
	ExtendedBudget = 67
)

// DefaultMaxLength is the longest rendered message the product accepts.
const DefaultMaxLength = 200

// Budget returns the per-segment character budget for class.
func Budget(class EncodingClass) int {
	if class == Extended {
		return ExtendedBudget
	}
	return StandardBudget
}

// Length measures message in UTF-16 code units, the unit gateways bill in.
// Runes outside the BMP count twice.
func Length(message string) int {
	n := 0
	for _, r := range message {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Segment returns ceil(Length(message) / Budget(class)).
// The empty message has zero segments.
func Segment(message string, class EncodingClass) int {
	n := Length(message)
	if n == 0 {
		return 0
	}
	b := Budget(class)
	return (n + b - 1) / b
}

// LengthError reports a rendered message over the configured maximum.
type LengthError struct {
	Length int
	Max    int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("message too long: %d characters (max %d)", e.Length, e.Max)
}

// CheckLength returns a *LengthError when rendered exceeds limit.
// A limit of zero or less uses DefaultMaxLength.
func CheckLength(rendered string, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxLength
	}
	if n := Length(rendered); n > limit {
		return &LengthError{Length: n, Max: limit}
	}
	return nil
}
