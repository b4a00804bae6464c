package config

import "fmt"

type SessionConfig struct {
	IdleSessionTTLSeconds int
	MaxSessionTTLSeconds  int
	CookieHashKey         RedactedString
	CookieEncodingKey     RedactedString
	// NOTE: CookieNotSecure should only be used for local development over plain http
	CookieNotSecure bool
}

func (c *SessionConfig) Validate() error {
	if c.IdleSessionTTLSeconds <= 0 {
		return fmt.Errorf("idle session TTL seconds must be positive, got %d", c.IdleSessionTTLSeconds)
	}
	if c.MaxSessionTTLSeconds > 0 && c.IdleSessionTTLSeconds > c.MaxSessionTTLSeconds {
		return fmt.Errorf("max session TTL seconds (%d) cannot be less than idle session TTL seconds (%d)", c.MaxSessionTTLSeconds, c.IdleSessionTTLSeconds)
	}
	if len(c.CookieHashKey) > 0 && len(c.CookieHashKey) != 32 && len(c.CookieHashKey) != 64 {
		return fmt.Errorf("session cookie hash key has to be 32 or 64 bytes long, the provided one is %d long", len(c.CookieHashKey))
	}
	encKeyLen := len(c.CookieEncodingKey)
	if encKeyLen > 0 && encKeyLen != 16 && encKeyLen != 24 && encKeyLen != 32 {
		return fmt.Errorf("session cookie encoding key has to be 16, 24 or 32 bytes long, the provided one is %d long", encKeyLen)
	}
	if encKeyLen > 0 && len(c.CookieHashKey) == 0 {
		return fmt.Errorf("session cookie encoding requires a cookie hash key")
	}
	return nil
}
