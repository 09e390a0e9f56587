package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"folderSync/backend/internal/collab"
	"folderSync/backend/internal/revision"

	"github.com/gorilla/websocket"
)

const (
	presenceTTL   = 10 * time.Minute
	submitTimeout = 2 * time.Second
)

// Conn 服务端的一条客户端连接，固定属于一个对象
type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	objectID string
	userID   string
	send     chan ServerMessage
	// readLoop 退出时关闭，之后的入队直接丢弃
	done chan struct{}
	svc  collab.Service
	sem  *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, objectID, userID string, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		objectID: objectID,
		userID:   userID,
		send:     make(chan ServerMessage, 64),
		done:     make(chan struct{}),
		svc:      svc,
		sem:      sem,
	}
}

// Enqueue 队列满了就丢弃
func (c *Conn) Enqueue(msg ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		log.Printf("[ws] send queue full, drop %s to user=%s object=%s", msg.Type, c.userID, c.objectID)
	}
}

func errorMessage(err error) ServerMessage {
	code := collabErrorCode(err)
	return ServerMessage{Type: TypeError, Code: code, Content: err.Error()}
}

func collabErrorCode(err error) string {
	switch {
	case errors.Is(err, revision.ErrOutOfOrder):
		return CodeOutOfOrder
	case errors.Is(err, revision.ErrDivergence):
		return CodeDivergence
	case errors.Is(err, revision.ErrMalformedDelta):
		return CodeMalformed
	case errors.Is(err, collab.ErrAcquireTimeout):
		return CodeBusy
	}
	return CodeInternal
}

func (c *Conn) handleRevision(ctx context.Context, r *revision.Revision) {
	if r == nil {
		c.Enqueue(ServerMessage{Type: TypeError, Code: CodeMalformed, Content: "missing revision"})
		return
	}
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if c.sem != nil {
		if err := c.sem.Acquire(submitCtx); err != nil {
			c.Enqueue(errorMessage(err))
			return
		}
		defer c.sem.Release()
	}

	rev := *r
	rev.ObjectID = c.objectID
	res, err := c.svc.Submit(submitCtx, rev)
	if err != nil {
		log.Printf("[ws] submit %s by user=%s: %v", rev, c.userID, err)
		c.Enqueue(errorMessage(err))
		return
	}
	switch res.Outcome {
	case collab.OutcomeApplied:
		c.Enqueue(ServerMessage{Type: TypeAck, ObjectID: c.objectID, RevID: res.Revision.RevID, Checksum: res.Revision.Checksum})
		c.hub.Broadcast(c.objectID, c, ServerMessage{
			Type:      TypeRevision,
			ObjectID:  c.objectID,
			UserID:    c.userID,
			RevID:     res.Revision.RevID,
			Revisions: []revision.Revision{res.Revision},
		})
	case collab.OutcomeDuplicate:
		c.Enqueue(ServerMessage{Type: TypeAck, ObjectID: c.objectID, RevID: res.Revision.RevID, Checksum: res.Revision.Checksum})
	case collab.OutcomeConflict:
		c.Enqueue(ServerMessage{Type: TypePush, ObjectID: c.objectID, Revisions: res.Push})
	}
}

func (c *Conn) handlePull(ctx context.Context, rng *revision.Range) {
	if rng == nil {
		c.Enqueue(ServerMessage{Type: TypeError, Code: CodeOutOfOrder, Content: "missing range"})
		return
	}
	revs, err := c.svc.RevisionRange(ctx, c.objectID, *rng)
	if err != nil {
		c.Enqueue(errorMessage(err))
		return
	}
	c.Enqueue(ServerMessage{Type: TypePush, ObjectID: c.objectID, Revisions: revs})
}

func (c *Conn) refreshPresence(ctx context.Context) []string {
	if c.hub.presence == nil {
		return nil
	}
	if err := c.hub.presence.Join(ctx, c.objectID, c.userID, presenceTTL); err != nil {
		log.Printf("[ws] presence join error: %v", err)
	}
	members, err := c.hub.presence.AliveMembers(ctx, c.objectID)
	if err != nil {
		log.Printf("[ws] presence members error: %v", err)
	}
	return members
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read json error (user=%s, object=%s): %v", c.userID, c.objectID, err)
			}
			return
		}
		if msg.ObjectID != "" && msg.ObjectID != c.objectID {
			c.Enqueue(ServerMessage{Type: TypeError, Code: CodeOutOfOrder, Content: "connection is bound to " + c.objectID})
			continue
		}
		switch msg.Type {
		case TypeRevision:
			c.handleRevision(ctx, msg.Revision)

		case TypePull:
			c.handlePull(ctx, msg.Range)

		case TypePassthrough:
			if c.hub.presence != nil {
				if err := c.hub.presence.SetState(ctx, c.objectID, c.userID, msg.Payload, presenceTTL); err != nil {
					log.Printf("[ws] presence state error: %v", err)
				}
			}
			c.hub.Broadcast(c.objectID, c, ServerMessage{Type: TypePassthrough, ObjectID: c.objectID, UserID: c.userID, Payload: msg.Payload})

		case TypeHeartbeat:
			members := c.refreshPresence(ctx)
			c.Enqueue(ServerMessage{Type: TypePresence, ObjectID: c.objectID, Members: members})

		default:
			c.Enqueue(ServerMessage{Type: TypeError, Code: CodeUnknown, Content: "Unknown message type " + msg.Type})
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Printf("[ws] write error (user=%s, object=%s): %v", c.userID, c.objectID, err)
				return
			}
		case <-c.done:
			return
		}
	}
}
