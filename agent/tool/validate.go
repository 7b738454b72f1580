package tool

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
)

const minPhoneDigits = 7

func validEmail(s string) bool {
	return identityx.ValidEmail(strings.TrimSpace(s))
}

func phoneDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func validPhone(s string) bool {
	return phoneDigits(s) >= minPhoneDigits
}

// IsRecordID reports whether s is a stable 24 hex character record id.
func IsRecordID(s string) bool {
	if len(s) != 24 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func invalidField(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", contractx.ErrValidation, field)
	}
	return fmt.Errorf("%w: invalid %s: %s", contractx.ErrValidation, field, value)
}

func validateSeller(seller string) error {
	if strings.TrimSpace(seller) == "" {
		return fmt.Errorf("%w: seller_email is required", contractx.ErrIdentityMissing)
	}
	if !validEmail(seller) {
		return invalidField("seller_email", seller)
	}
	return nil
}

// validateCreate checks every field required to create a contact.
func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", contractx.ErrValidation)
	}
	if !validEmail(in.Email) {
		return invalidField("email", in.Email)
	}
	if !validPhone(in.PhoneNumber) {
		return invalidField("phone_number", in.PhoneNumber)
	}
	return nil
}

// validateUpdate checks only the fields that were provided.
func validateUpdate(in UpdateInput) error {
	if strings.TrimSpace(in.Identifier) == "" {
		return invalidField("identifier", "")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", contractx.ErrValidation)
	}
	if in.Email != nil && !validEmail(*in.Email) {
		return invalidField("email", *in.Email)
	}
	if in.PhoneNumber != nil && !validPhone(*in.PhoneNumber) {
		return invalidField("phone_number", *in.PhoneNumber)
	}
	return nil
}
