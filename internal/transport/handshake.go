package transport

import (
	"net/http"

	"github.com/bulltrade/gateway/internal/auth"
)

// RejectReason is the stable reason returned to clients whose handshake
// carries identity material that cannot be resolved to a user.
const RejectReason = "Trading authentication failed"

// deviceHeader is consulted when the upgrade query carries no deviceId.
const deviceHeader = "x-device-id"

// identity is what the handshake inspector extracts from the upgrade request
// before the connection is admitted.
type identity struct {
	userID    string
	deviceID  string
	principal auth.Principal
	verified  bool
	resume    auth.ResumeToken
	hasResume bool
}

// inspect extracts the client identity candidate from the upgrade request.
// Recognized query parameters are clientId, deviceId, token and sessionToken;
// the x-device-id header backs up a missing deviceId. A bearer token that
// verifies overrides clientId with the principal's user id. It returns false
// when identity material was presented but no user could be established;
// a request with no identity material at all is admitted anonymously and
// must authenticate with hello.
func inspect(r *http.Request) (identity, bool) {
	q := r.URL.Query()
	var id identity

	userID := q.Get("clientId")
	deviceID := q.Get("deviceId")
	token := q.Get("token")

	if token != "" {
		if p, err := auth.Verify(token); err == nil {
			id.principal = p
			id.verified = true
			userID = p.UserID
		}
	}
	if deviceID == "" {
		deviceID = r.Header.Get(deviceHeader)
	}

	attempted := userID != "" || deviceID != "" || token != ""
	if attempted && userID == "" {
		return identity{}, false
	}
	if userID != "" && deviceID == "" {
		deviceID = auth.DefaultDeviceID(userID)
	}
	id.userID = userID
	id.deviceID = deviceID

	if raw := q.Get("sessionToken"); raw != "" {
		if t, err := auth.ParseResumeToken(raw); err == nil {
			id.resume = t
			id.hasResume = true
		}
	}
	return id, true
}
