package handlers

import (
	"context"

	"github.com/bulltrade/gateway/internal/auth"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/protocol"
	"github.com/bulltrade/gateway/internal/session"
)

// HelloRequest authenticates the session.
type HelloRequest struct {
	Token    string `msgpack:"token" json:"token"`
	ClientID string `msgpack:"clientId" json:"clientId"`
	DeviceID string `msgpack:"deviceId" json:"deviceId"`
}

// HelloResponse confirms authentication and hands the client its resume
// token.
type HelloResponse struct {
	SessionID       string          `msgpack:"sessionId" json:"sessionId"`
	UserID          string          `msgpack:"userId" json:"userId"`
	Roles           []string        `msgpack:"roles" json:"roles"`
	Token           string          `msgpack:"token" json:"token"`
	SessionExpiryMs int64           `msgpack:"sessionExpiryMs" json:"sessionExpiryMs"`
	Message         string          `msgpack:"message" json:"message"`
	Features        map[string]bool `msgpack:"features" json:"features"`
}

// LogoutResponse acknowledges that authentication was cleared.
type LogoutResponse struct {
	SessionID string `msgpack:"sessionId" json:"sessionId"`
}

// HandleHello verifies the bearer token and authenticates the session. On
// success the session becomes resumable and the gate opens for protected
// methods.
func HandleHello(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		var in HelloRequest
		if err := protocol.DecodeBody(req.Body, &in); err != nil {
			return dispatch.Fail(protocol.CodeInvalidParams, "malformed hello body")
		}

		principal, err := auth.Verify(in.Token)
		if err != nil {
			return dispatch.Fail(protocol.CodeAuthFailed, "token verification failed")
		}

		deviceID := in.DeviceID
		if deviceID == "" {
			deviceID = auth.DefaultDeviceID(in.ClientID)
		}

		token := d.Sessions.Authenticate(req.Session, principal, in.ClientID, deviceID)

		body, err := protocol.EncodeBody(HelloResponse{
			SessionID:       req.Session.ID,
			UserID:          principal.UserID,
			Roles:           principal.Roles,
			Token:           token.Hex(),
			SessionExpiryMs: d.Sessions.SuspendTTL().Milliseconds(),
			Message:         "welcome " + principal.UserID,
			Features: map[string]bool{
				"qos":         true,
				"resume":      true,
				"marketData":  true,
				"orderRouter": true,
				"alerts":      true,
			},
		})
		if err != nil {
			return dispatch.Fail(protocol.CodeInternalError, "encode hello response")
		}
		return dispatch.Reply(body)
	}
}

// HandleLogout clears authentication and room memberships. The session and
// its connection stay up; only the principal is gone.
func HandleLogout(d Deps) dispatch.HandlerFunc {
	return func(_ context.Context, req *dispatch.Request) dispatch.Response {
		s := req.Session
		d.Rooms.LeaveAll(s)
		s.SetField(session.FieldAuthenticated, nil)
		s.SetField(FieldSubscribedRooms, nil)

		body, _ := protocol.EncodeBody(LogoutResponse{SessionID: s.ID})
		return dispatch.Reply(body)
	}
}
