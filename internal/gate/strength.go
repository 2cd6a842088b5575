package gate

import (
	"strings"
	"unicode"
)

// MinPasswordLength is the hard floor for new passwords.
const MinPasswordLength = 8

// Strength is the outcome of scoring a candidate password.
type Strength struct {
	Score        int // 0-5, one point per satisfied requirement
	HasMinLength bool
	HasUppercase bool
	HasLowercase bool
	HasNumber    bool
	HasSpecial   bool
	IsCommon     bool
	Valid        bool
	Feedback     []string
}

// commonPasswords are rejected outright regardless of score.
var commonPasswords = map[string]bool{
	"password":    true,
	"password1":   true,
	"password123": true,
	"12345678":    true,
	"123456789":   true,
	"qwerty123":   true,
	"letmein":     true,
	"welcome1":    true,
	"admin123":    true,
	"iloveyou":    true,
	"sunshine":    true,
	"trustno1":    true,
}

// CheckStrength scores a candidate password. A password is Valid when
// it meets the length floor, satisfies at least three requirements and
// is not on the common-password list.
func CheckStrength(password string) Strength {
	s := Strength{HasMinLength: len(password) >= MinPasswordLength}

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			s.HasUppercase = true
		case unicode.IsLower(r):
			s.HasLowercase = true
		case unicode.IsDigit(r):
			s.HasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			s.HasSpecial = true
		}
	}

	for _, ok := range []bool{s.HasMinLength, s.HasUppercase, s.HasLowercase, s.HasNumber, s.HasSpecial} {
		if ok {
			s.Score++
		}
	}
	s.IsCommon = commonPasswords[strings.ToLower(password)]

	if !s.HasMinLength {
		s.Feedback = append(s.Feedback, "use at least 8 characters")
	}
	if s.IsCommon {
		s.Feedback = append(s.Feedback, "this password is too common")
	}
	if s.Score < 3 {
		s.Feedback = append(s.Feedback, "mix upper and lower case, numbers and symbols")
	}

	s.Valid = s.HasMinLength && s.Score >= 3 && !s.IsCommon
	return s
}
