package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/logging"
)

const writeWait = 10 * time.Second

// events handles GET /api/builds/{id}/events. The socket receives the job's
// current snapshot, then every published change, and is closed after the
// terminal snapshot.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		writeError(w, http.StatusNotImplemented, errors.New("event streaming is disabled"))
		return
	}
	id := mux.Vars(r)["id"]
	job, err := s.opts.Scheduler.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	// Subscribe before the first snapshot so no transition is missed.
	updates, cancel := s.opts.Hub.Subscribe(id)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField(logging.JobID, id).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The read loop only notices the client hanging up.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).WithField(logging.JobID, id).Debug("websocket read")
				}
				return
			}
		}
	}()

	send := func(snap build.Snapshot) bool {
		snap.BuildOutput = nil
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			return false
		}
		return !snap.Status.Terminal()
	}

	if !send(job.Snapshot()) {
		closeSocket(conn)
		return
	}
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if !send(snap) {
				closeSocket(conn)
				return
			}
		case <-job.Done():
			// a dropped update must not leave the client waiting
			send(job.Snapshot())
			closeSocket(conn)
			return
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "build finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
