package classifier

import "strings"

// Validator is a hard gate applied to the digit-only form of a match.
type Validator func(digits string) bool

// validators are the checksum gates recognizers can reference by name.
var validators = map[string]Validator{
	"mod11": ValidateMod11,
	"luhn":  luhnValid,
}

// ValidateMod11 checks the two trailing check digits of an 11-digit national
// taxpayer number (CPF). Inputs of any other length, non-digit inputs and
// sequences of a single repeated digit are rejected. It never panics.
func ValidateMod11(digits string) bool {
	if len(digits) != 11 {
		return false
	}
	d := make([]int, 11)
	same := true
	for i := 0; i < 11; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d[i] = int(c - '0')
		if c != digits[0] {
			same = false
		}
	}
	if same {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += d[i] * (10 - i)
	}
	first := (sum * 10 % 11) % 10

	sum = 0
	for i := 0; i < 10; i++ {
		sum += d[i] * (11 - i)
	}
	second := (sum * 10 % 11) % 10

	return first == d[9] && second == d[10]
}

// luhnValid checks whether a digit string passes the Luhn algorithm (ISO/IEC 7812).
func luhnValid(number string) bool {
	n := len(number)
	if n < 2 {
		return false
	}
	sum := 0
	alt := false
	for i := n - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// stripNonDigits removes all non-digit characters from s.
func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
