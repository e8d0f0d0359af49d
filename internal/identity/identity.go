// File: internal/identity/identity.go

// Package identity generates the registration data for a run: a plausible
// name, an adult birth date and a policy-compliant password.
package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*-_=+"

	defaultPasswordLength = 16
	minPasswordLength     = 8
)

var firstNames = []string{
	"Alex", "Jordan", "Taylor", "Morgan", "Casey", "Riley", "Avery",
	"Quinn", "Hayden", "Rowan", "Elliot", "Dana", "Robin", "Sam",
}

var lastNames = []string{
	"Walker", "Bennett", "Hayes", "Porter", "Sullivan", "Brooks",
	"Reyes", "Foster", "Griffin", "Murray", "Ellis", "Barnes",
}

// Profile is one run's registration data.
type Profile struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	CompanyName string

	BirthYear  int
	BirthMonth int
	BirthDay   int
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Generate builds a profile around the given email address. The numeric
// suffix on the company name keeps concurrent runs distinguishable.
func Generate(email string) (Profile, error) {
	first, err := pick(firstNames)
	if err != nil {
		return Profile{}, err
	}
	last, err := pick(lastNames)
	if err != nil {
		return Profile{}, err
	}
	password, err := GeneratePassword(defaultPasswordLength)
	if err != nil {
		return Profile{}, err
	}

	suffix, err := randomInt(9000)
	if err != nil {
		return Profile{}, err
	}

	year, month, day, err := randomAdultBirthDate()
	if err != nil {
		return Profile{}, err
	}

	return Profile{
		FirstName:   first,
		LastName:    last,
		Email:       email,
		Password:    password,
		CompanyName: fmt.Sprintf("%s Labs %d", last, 1000+suffix),
		BirthYear:   year,
		BirthMonth:  month,
		BirthDay:    day,
	}, nil
}

// GeneratePassword produces a random password containing at least one
// lowercase letter, one uppercase letter, one digit and one symbol.
func GeneratePassword(length int) (string, error) {
	if length < minPasswordLength {
		length = minPasswordLength
	}

	groups := []string{lowerChars, upperChars, digitChars, symbolChars}
	all := strings.Join(groups, "")

	chars := make([]byte, 0, length)
	// One character from each group guarantees policy compliance.
	for _, group := range groups {
		c, err := pickByte(group)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := pickByte(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Fisher-Yates so the guaranteed characters are not predictable by
	// position.
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars), nil
}

// randomAdultBirthDate returns a date for someone between 21 and 50 years
// old. Day caps at 28 to stay valid in every month.
func randomAdultBirthDate() (year, month, day int, err error) {
	now := time.Now()

	span, err := randomInt(30)
	if err != nil {
		return 0, 0, 0, err
	}
	year = now.Year() - 21 - span

	m, err := randomInt(12)
	if err != nil {
		return 0, 0, 0, err
	}
	d, err := randomInt(28)
	if err != nil {
		return 0, 0, 0, err
	}
	return year, m + 1, d + 1, nil
}

func pick(pool []string) (string, error) {
	i, err := randomInt(len(pool))
	if err != nil {
		return "", err
	}
	return pool[i], nil
}

func pickByte(pool string) (byte, error) {
	i, err := randomInt(len(pool))
	if err != nil {
		return 0, err
	}
	return pool[i], nil
}

func randomInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("entropy source failed: %w", err)
	}
	return int(n.Int64()), nil
}
