package reminder

import "testing"

func TestNormalizeMobile(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
		ok      bool
	}{
		{"national with region", "0412 345 678", "AU", "+61412345678", true},
		{"lower case region", "0412345678", "au", "+61412345678", true},
		{"international ignores region", "+61 412 345 678", "NZ", "+61412345678", true},
		{"international without region", "+61412345678", "", "+61412345678", true},
		{"national without region", "0412345678", "", "", false},
		{"too short", "12345", "AU", "", false},
		{"letters", "call me", "AU", "", false},
		{"blank", "   ", "AU", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeMobile(tt.raw, tt.country)
			if ok != tt.ok || got != tt.want {
				t.Errorf("NormalizeMobile(%q, %q) = %q, %v; want %q, %v", tt.raw, tt.country, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIsPrivacyRelay(t *testing.T) {
	tests := map[string]bool{
		"abc123@privaterelay.appleid.com":     true,
		"abc123@PrivateRelay.AppleID.com":     true,
		"abc@eu.privaterelay.appleid.com":     true,
		"jo@example.com":                      false,
		"jo@notprivaterelay.appleid.com.evil": false,
		"":                                    false,
		"no-at-sign":                          false,
	}

	for email, want := range tests {
		if got := IsPrivacyRelay(email); got != want {
			t.Errorf("IsPrivacyRelay(%q) = %v, want %v", email, got, want)
		}
	}
}
