package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"gihan9a/docpatch/pkg/patchproto"
)

const wsWriteWait = 10 * time.Second

// handleWebsocket pushes Update messages for one document over a websocket.
// Clients may send patchproto.Request messages on the same connection; each
// is answered with a patchproto.Response. A request without an id targets
// the subscribed document.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := s.coord.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	body, err := doc.Root.MarshalJSON()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "resource", id, "err", err)
		return
	}
	defer conn.Close()

	write := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	sub := s.AddSubscription(id, func(u *patchproto.Update) error { return write(u) })
	defer func() {
		s.RemoveSubscription(id, sub.ID)
		sub.close()
		<-sub.stopped
	}()
	s.log.Info("websocket client connected", "resource", id, "subscription", sub.ID)

	if err := sub.deliver(doc, body); err != nil {
		return
	}
	s.catchUp(r.Context(), sub)

	// Unblock ReadJSON when the server shuts the subscription down.
	go func() {
		<-sub.done
		conn.Close()
	}()

	for {
		var req patchproto.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", "subscription", sub.ID, "err", err)
			}
			s.log.Info("websocket client disconnected", "resource", id, "subscription", sub.ID)
			return
		}
		if req.ID == "" {
			req.ID = id
		}

		var resp patchproto.Response
		res, err := s.applyRequest(r.Context(), req)
		if err == nil {
			resp, err = s.response(res)
		}
		if err != nil {
			resp, _ = failure(err)
		}
		if err := sub.write(func() error { return write(resp) }); err != nil {
			return
		}
	}
}
