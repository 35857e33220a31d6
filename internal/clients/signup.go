package clients

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// MinPhoneDigits is the shortest phone number accepted from the signup form.
const MinPhoneDigits = 9

// SignupNote marks clients who added themselves by scanning the account's
// QR code.
const SignupNote = "QR"

// ValidateSignup checks a self-service signup. Every field is required and
// the phone number must carry at least MinPhoneDigits digits.
func ValidateSignup(in Input) error {
	for _, f := range []struct{ name, value string }{
		{"name", in.Name},
		{"surname", in.Surname},
		{"email", in.Email},
		{"phone", in.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, f.name)
		}
	}
	if !strings.Contains(in.Email, "@") {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	digits := 0
	for _, r := range in.Phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return fmt.Errorf("%w: phone may only contain digits", ErrInvalidInput)
		}
	}
	if digits < MinPhoneDigits {
		return fmt.Errorf("%w: phone needs at least %d digits", ErrInvalidInput, MinPhoneDigits)
	}
	return nil
}

// Signup adds a client who registered through the account's QR code and
// returns it with its new review code.
func (s *Store) Signup(ctx context.Context, userID int, in Input) (*db.Client, error) {
	if err := ValidateSignup(in); err != nil {
		return nil, err
	}
	in.Note = SignupNote
	return s.Create(ctx, userID, in)
}
