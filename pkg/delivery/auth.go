// Package delivery posts agent replies to the relay bus endpoint.
package delivery

import "strings"

const DefaultAuthHeader = "X-API-KEY"

// AuthHeaders picks the authentication header for an outbound call:
// nothing without a token, a bearer Authorization header when method is
// "bearer", else the raw token under header (X-API-KEY when empty).
func AuthHeaders(token, method, header string) map[string]string {
	if token == "" {
		return map[string]string{}
	}
	if strings.EqualFold(strings.TrimSpace(method), "bearer") {
		return map[string]string{"Authorization": "Bearer " + token}
	}
	if header == "" {
		header = DefaultAuthHeader
	}
	return map[string]string{header: token}
}
