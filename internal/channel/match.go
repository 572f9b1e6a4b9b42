package channel

import "chatbridge/internal/domain"

// Matches reports whether every required key is present in fields with an
// identical value. Extra fields are ignored; an empty required set always matches.
func Matches(fields, required map[string]string) bool {
	for k, want := range required {
		got, ok := fields[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// DeriveChannel returns the delivery channel of a recipient.
func DeriveChannel(recipient string) string {
	return domain.ChannelPrefix + recipient
}
