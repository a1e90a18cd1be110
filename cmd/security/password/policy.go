package password

// Validate checks password length policy. It does not mutate input.
func (c Config) Validate(password string) error {
	if len(password) < c.Policy.MinLength || password == "" {
		return ErrPasswordEmpty
	}
	if c.Policy.MaxLength > 0 && len(password) > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}
