// Package api provides the HTTP handlers of the relay: the public state and
// login endpoints used by the web clients, and the admin endpoints.
package api

// APIVersion represents the current API version supported by this server.
// This allows clients to auto-detect capabilities.
//
// The api_version field in /status indicates what features are available.
const (
	// APIVersion1 is the original API version.
	APIVersion1 = 1

	// CurrentAPIVersion is the highest API version supported by this server.
	CurrentAPIVersion = APIVersion1
)

// APICapabilities describes the features available at each API version.
var APICapabilities = map[int][]string{
	APIVersion1: {
		"state",
		"password-login",
		"signaling", // /listen and /interpret WebSocket endpoints
		"https",
	},
}

// StatusResponse is the response from the /status endpoint.
type StatusResponse struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	APIVersion   int      `json:"api_version"`
	Capabilities []string `json:"capabilities,omitempty"`
}
