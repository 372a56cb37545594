package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/proto"
)

// relay bridges two authenticated websocket clients: every accepted msg
// frame is persisted, acked to the sender, echoed back as a confirmed
// event and forwarded to the peer as a received event.
type relay struct {
	log    *zerolog.Logger
	store  *Store
	secret []byte
	// noIDs makes acks and confirmed events carry a null id, which is
	// what some production relays do; useful for exercising clients.
	noIDs bool

	mu      sync.Mutex
	clients map[int64]*relayClient
}

type relayClient struct {
	userID  int64
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newRelay(store *Store, secret []byte, noIDs bool, logger *zerolog.Logger) *relay {
	return &relay{
		log:     logger,
		store:   store,
		secret:  secret,
		noIDs:   noIDs,
		clients: make(map[int64]*relayClient),
	}
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer ws.CloseNow()

	ctx := req.Context()

	var hello proto.Frame
	if err := wsjson.Read(ctx, ws, &hello); err != nil || hello.Type != proto.FrameHello {
		r.log.Warn().Err(err).Msg("expected hello frame")
		return
	}
	var helloData proto.HelloData
	if err := json.Unmarshal(hello.Data, &helloData); err != nil {
		r.log.Warn().Err(err).Msg("decode hello frame")
		return
	}

	userID, err := verifyToken(r.secret, helloData.Token)
	if err != nil {
		r.writeError(ctx, &relayClient{ws: ws}, "unauthorized", "invalid token")
		ws.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	client := &relayClient{userID: userID, ws: ws}
	r.register(client)
	defer r.unregister(client)
	r.log.Info().Int64("user_id", userID).Msg("client connected")

	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if !errors.Is(err, context.Canceled) {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					r.log.Warn().Err(err).Int64("user_id", userID).Msg("read frame")
				}
			}
			return
		}
		if frame.Type != proto.FrameMsg {
			continue
		}

		var msg proto.MsgData
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			r.writeError(ctx, client, "bad_request", "malformed msg frame")
			continue
		}
		r.handleMessage(ctx, client, msg)
	}
}

func (r *relay) handleMessage(ctx context.Context, sender *relayClient, msg proto.MsgData) {
	sentTime := time.Now().UTC()

	rowID, err := r.store.SaveMessage(ctx, sender.userID, msg.ReceiverID, msg.Content, sentTime)
	if err != nil {
		r.log.Error().Err(err).Msg("persist message")
		r.writeError(ctx, sender, "server_error", "could not store message")
		return
	}

	var id proto.ServerID
	if !r.noIDs {
		id = proto.FormatID(rowID)
	}

	ack, err := proto.Marshal(proto.FrameAck, proto.AckData{Ref: msg.Ref, ID: id})
	if err == nil {
		r.write(ctx, sender, ack)
	}

	wire := proto.WireMessage{
		ID:         id,
		SenderID:   sender.userID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		SentTime:   sentTime.Format(time.RFC3339),
	}
	for _, a := range msg.Attachments {
		raw, err := json.Marshal(map[string]string{
			"url":  "uploads/" + strconv.FormatInt(rowID, 10) + "/" + a.FileName,
			"name": a.FileName,
		})
		if err == nil {
			wire.Attachments = append(wire.Attachments, raw)
		}
	}

	if confirmed, err := proto.Marshal(proto.FrameEvent, proto.EventData{Kind: proto.EventConfirmed, Message: wire}); err == nil {
		r.write(ctx, sender, confirmed)
	}

	r.mu.Lock()
	peer := r.clients[msg.ReceiverID]
	r.mu.Unlock()
	if peer == nil {
		return
	}
	if received, err := proto.Marshal(proto.FrameEvent, proto.EventData{Kind: proto.EventReceived, Message: wire}); err == nil {
		r.write(ctx, peer, received)
	}
}

func (r *relay) register(c *relayClient) {
	r.mu.Lock()
	if old := r.clients[c.userID]; old != nil {
		old.ws.Close(websocket.StatusPolicyViolation, "replaced by new connection")
	}
	r.clients[c.userID] = c
	r.mu.Unlock()
}

func (r *relay) unregister(c *relayClient) {
	r.mu.Lock()
	if r.clients[c.userID] == c {
		delete(r.clients, c.userID)
	}
	r.mu.Unlock()
}

func (r *relay) write(ctx context.Context, c *relayClient, frame proto.Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.ws, frame); err != nil {
		r.log.Warn().Err(err).Int64("user_id", c.userID).Msg("write frame")
	}
}

func (r *relay) writeError(ctx context.Context, c *relayClient, code, msg string) {
	frame, err := proto.Marshal(proto.FrameError, proto.ErrorData{Code: code, Msg: msg})
	if err != nil {
		return
	}
	r.write(ctx, c, frame)
}
