package session

import "fmt"

// validateCredentials applies the registration policy to a username/password
// pair. The returned ValidationError messages are sent to clients verbatim,
// so their wording is part of the API. maxPasswordLen mirrors the hashing
// layer's length cap so oversized passwords fail here, as client errors,
// instead of deeper in the stack.
func validateCredentials(username, password string, maxUsernameLen, maxPasswordLen int) error {
	switch {
	case username == "":
		return ValidationError{Msg: "Username cannot be empty."}
	case password == "":
		return ValidationError{Msg: "Password cannot be empty."}
	case len(username) > maxUsernameLen:
		return ValidationError{Msg: fmt.Sprintf("Username too long (max: %d characters).", maxUsernameLen)}
	case maxPasswordLen > 0 && len(password) > maxPasswordLen:
		return ValidationError{Msg: fmt.Sprintf("Password too long (max: %d characters).", maxPasswordLen)}
	case !isAlphanumeric(username):
		return ValidationError{Msg: "Username should be alphanumeric."}
	case !isPrintable(password):
		return ValidationError{Msg: "Invalid character in password."}
	}
	return nil
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			continue
		}
		return false
	}
	return true
}

// isPrintable accepts printable ASCII only (0x20..0x7E).
func isPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
