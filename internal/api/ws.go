package api

import (
	"errors"
	"net/http"

	"github.com/npezzotti/go-chathub/internal/auth"
)

// serveWs authenticates before upgrading so a rejected credential gets a
// plain HTTP 401 and never becomes a connection.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, err := s.cs.Authenticate(credentialFromRequest(r))
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationRejected) {
			s.log.Printf("websocket authentication: %v", err)
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	if err := s.cs.Serve(user, conn); err != nil {
		s.log.Printf("serve connection for user %d: %v", user.Id, err)
	}
}
