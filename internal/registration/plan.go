// File: internal/registration/plan.go
package registration

import (
	"fmt"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
)

// Selectors for the sign-up form. Field candidates deliberately layer CSS,
// label and placeholder lookups; the markup shifts between releases.
const (
	signUpEntrySelector = "a[href*='sign_up'], a[href*='signup']"
	submitSelector      = "button[type='submit'], input[type='submit']"

	birthMonthSelector = "select[name*='month'], #user_birth_month"
	birthDaySelector   = "select[name*='day'], #user_birth_day"
	birthYearSelector  = "select[name*='year'], #user_birth_year"

	marketingOptInSelector = "input[type='checkbox'][name*='marketing'], #user_marketing_consent"
)

// errorTextSelectors locate inline failure messages, most specific first.
var errorTextSelectors = []string{
	"#error_explanation",
	".alert-danger",
	".error-message",
	"[role='alert']",
}

// formPlan declares the account fields for a profile. First name, last name,
// email and both password fields are critical: a run with any of them
// missing cannot possibly register.
func formPlan(profile identity.Profile) []browser.FieldValue {
	return []browser.FieldValue{
		{
			Field: browser.Field{
				Name:      "first_name",
				Critical:  true,
				Selectors: []string{"#user_first_name", "input[name*='first_name']"},
				Label:     "First name",
			},
			Value: profile.FirstName,
		},
		{
			Field: browser.Field{
				Name:      "last_name",
				Critical:  true,
				Selectors: []string{"#user_last_name", "input[name*='last_name']"},
				Label:     "Last name",
			},
			Value: profile.LastName,
		},
		{
			Field: browser.Field{
				Name:      "email",
				Critical:  true,
				Selectors: []string{"#user_email", "input[type='email']"},
				Label:     "Email",
			},
			Value: profile.Email,
		},
		{
			Field: browser.Field{
				Name:      "password",
				Critical:  true,
				Selectors: []string{"#user_password", "input[name*='password']:not([name*='confirmation'])"},
				Label:     "Password",
			},
			Value: profile.Password,
		},
		{
			Field: browser.Field{
				Name:      "password_confirmation",
				Critical:  true,
				Selectors: []string{"#user_password_confirmation", "input[name*='password_confirmation']"},
				Label:     "Confirm password",
			},
			Value: profile.Password,
		},
		{
			Field: browser.Field{
				Name:        "company",
				Critical:    false,
				Selectors:   []string{"#user_company_name", "input[name*='company']"},
				Label:       "Company",
				Placeholder: "Company",
			},
			Value: profile.CompanyName,
		},
	}
}

// birthDatePlan maps the profile's birth date onto the three dropdowns.
func birthDatePlan(profile identity.Profile) []struct{ Selector, Value string } {
	return []struct{ Selector, Value string }{
		{birthMonthSelector, fmt.Sprintf("%d", profile.BirthMonth)},
		{birthDaySelector, fmt.Sprintf("%d", profile.BirthDay)},
		{birthYearSelector, fmt.Sprintf("%d", profile.BirthYear)},
	}
}
