// Package privacy masks credentials and verification keys before they
// reach the logs.
package privacy

import (
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const maskedPassword = "****"

// MaskSecret masks a secret showing only its last 2 characters. Secrets of
// 4 characters or fewer are fully masked.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return maskString(secret, 2)
}

// MaskURL hides the password of a URL with user info, such as a broker or
// Redis URL. Strings that do not parse are returned fully masked.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return maskString(raw, 0)
	}
	if u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), maskedPassword)
	}
	// url.String escapes the mask
	return strings.Replace(u.String(), url.QueryEscape(maskedPassword), maskedPassword, 1)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies the masking matching each known field name
func MaskSensitiveFields(fields logrus.Fields) logrus.Fields {
	if fields == nil {
		return nil
	}

	masked := make(logrus.Fields, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "verify_key", "key":
			masked[k] = MaskSecret(s)
		case "password":
			masked[k] = maskedPassword
		case "broker", "redis_url", "url":
			masked[k] = MaskURL(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
