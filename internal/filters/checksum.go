package filters

import "unicode"

// luhnCheck validates a digit string against the Luhn checksum (credit
// cards, and as a secondary signal for account numbers). Grounded on the
// pack's PII detector convention of a validate hook on the credit-card rule
// (other_examples' pii_detector.go).
func luhnCheck(s string) bool {
	digits := extractDigits(s)
	n := len(digits)
	if n < 13 || n > 19 {
		return false
	}
	sum := 0
	for i := n - 1; i >= 0; i-- {
		d := digits[i]
		if (n-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

func extractDigits(s string) []int {
	digits := make([]int, 0, len(s))
	for _, ch := range s {
		if unicode.IsDigit(ch) {
			digits = append(digits, int(ch-'0'))
		}
	}
	return digits
}

// npiCheck validates a 10-digit National Provider Identifier using the
// Luhn-like checksum defined by CMS: prefix the digit string with "80840",
// run the standard Luhn algorithm, and it must reduce to a multiple of ten.
func npiCheck(s string) bool {
	digits := extractDigits(s)
	if len(digits) != 10 {
		return false
	}
	prefixed := append([]int{8, 0, 8, 4, 0}, digits...)
	sum := 0
	n := len(prefixed)
	for i := n - 1; i >= 0; i-- {
		d := prefixed[i]
		if (n-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// deaCheck validates a DEA registration number: two letters followed by
// seven digits. The checksum sums digits at positions {1,3,5} (1-indexed
// within the 7-digit body), sums digits at positions {2,4,6}, doubles the
// second sum, and the last digit of (sum1+2*sum2) must equal the 7th digit.
func deaCheck(s string) bool {
	letters, digits := 0, extractDigits(s)
	for _, ch := range s {
		if unicode.IsLetter(ch) {
			letters++
		}
	}
	if letters != 2 || len(digits) != 7 {
		return false
	}
	odd := digits[0] + digits[2] + digits[4]
	even := digits[1] + digits[3] + digits[5]
	check := (odd + 2*even) % 10
	return check == digits[6]
}
