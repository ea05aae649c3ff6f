package reminder

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// unknownRegion lets phonenumbers accept numbers that carry their own +country prefix.
const unknownRegion = "ZZ"

// NormalizeMobile validates a number for the trainer's country and returns it in
// E.164. Numbers that fail region-aware validation are reported as absent.
func NormalizeMobile(raw, country string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	region := strings.ToUpper(strings.TrimSpace(country))
	if region == "" {
		region = unknownRegion
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}

	return phonenumbers.Format(num, phonenumbers.E164), true
}

// privacyRelayDomains are forwarding addresses that must not be shown as a contact.
var privacyRelayDomains = []string{
	"privaterelay.appleid.com",
}

// IsPrivacyRelay reports whether an email is a privacy relay address.
func IsPrivacyRelay(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	for _, d := range privacyRelayDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
