package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/chatterstack/chatterhub/internal/types"
	"github.com/gorilla/websocket"
)

type AddMemberRequest struct {
	UserId string `json:"user_id"`
}

// serveWs authenticates the access_token query parameter and upgrades
// the connection. The token is rejected before the upgrade; an
// invalid token never reaches the hub. The room_id parameters carry
// the client's full subscription list, reconnects included.
func (s *HubServer) serveWs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	identity, err := s.validator.Validate(query.Get("access_token"))
	if err != nil {
		s.log.Println("ws: token rejected:", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomIds := query["room_id"]

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.hub.AttachSession(types.User{
		Id:       identity.UserId,
		Username: identity.Username,
	}, conn, roomIds)
}

// memberAdded is called by the REST service after it commits a room
// membership change, so the added user's live sessions learn about
// the room without reconnecting.
func (s *HubServer) memberAdded(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("room_id")

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.hub.NotifyMemberAdded(r.Context(), roomId, req.UserId); err != nil {
		s.log.Printf("notify member added to room %q: %v", roomId, err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}
