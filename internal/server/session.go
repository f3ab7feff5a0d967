package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/Tyrowin/relaychat/internal/bridge"
	"github.com/Tyrowin/relaychat/internal/inbox"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/room"
	"github.com/Tyrowin/relaychat/internal/transport"
	"github.com/Tyrowin/relaychat/internal/users"
	"github.com/google/uuid"
)

// Reasons carried in err replies.
const (
	reasonInvalidMessage  = "invalid message"
	reasonLoginRequired   = "login required"
	reasonJoinRequired    = "join required"
	reasonNotInRoom       = "not in room"
	reasonMessageTooLong  = "message too long"
	reasonInvalidText     = "invalid text"
	reasonDeliveryTooLong = "delivery too long"
	reasonAlreadyLoggedIn = "already logged in"
	reasonUnsupported     = "unsupported command"
)

// Reply echoes for ok responses that do not echo the request.
const (
	okLogin = "ok"
	okQuit  = "bye"
)

// errSessionDone ends a session loop without being a failure.
var errSessionDone = errors.New("session done")

// session is the worker state for one connection. It is only touched by
// the goroutine running it, except for the receiver's connection watcher.
type session struct {
	id     uuid.UUID
	srv    *Server
	conn   transport.Conn
	logger *slog.Logger

	user *users.User
	room *room.Room
}

func newSession(srv *Server, conn transport.Conn) *session {
	id := uuid.New()
	return &session{
		id:     id,
		srv:    srv,
		conn:   conn,
		logger: srv.logger.With("session", id, "addr", conn.RemoteAddr()),
	}
}

// run drives the session to completion. Every exit path leaves the room,
// unregisters the user and closes the connection.
func (s *session) run() {
	defer s.cleanup()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	s.logger.Debug("session started")

	msg, ok := s.receive()
	if !ok {
		return
	}

	switch msg.Tag {
	case protocol.TagSLogin:
		if !s.login(msg.Data) {
			return
		}
		// Senders are room members but never forward deliveries.
		s.user.Inbox.Shutdown()
		s.senderLoop()
	case protocol.TagRLogin:
		if !s.login(msg.Data) {
			return
		}
		s.receiverLoop()
	default:
		s.logger.Debug("rejecting first message", "tag", msg.Tag)
		s.replyErr(reasonLoginRequired)
	}
}

func (s *session) cleanup() {
	if s.room != nil {
		s.room.RemoveMember(s.user)
		s.room = nil
	}
	if s.user != nil {
		s.srv.users.Unregister(s.user.ID)
	}
	if err := s.conn.Close(); err != nil && !transport.IsExpectedClose(err) {
		s.logger.Warn("error closing connection", "error", err)
	}
	s.logger.Debug("session ended", "last_result", s.conn.LastResult().String())
}

// receive reads one record. A malformed record is answered with an err
// reply before the session gives up on the stream.
func (s *session) receive() (protocol.Message, bool) {
	msg, err := s.conn.Receive()
	if err == nil {
		return msg, true
	}

	switch transport.StatusOf(err) {
	case transport.InvalidMessage:
		s.logger.Debug("malformed record", "error", err)
		s.replyErr(reasonInvalidMessage)
	default:
		s.logTransportError("receive failed", err)
	}
	return protocol.Message{}, false
}

func (s *session) login(username string) bool {
	if err := protocol.ValidateName(username); err != nil {
		s.replyErr(err.Error())
		return false
	}

	s.user = s.srv.users.Register(username)
	s.logger = s.logger.With("user", username)
	s.logger.Info("user logged in")
	return s.reply(protocol.TagOK, okLogin)
}

func (s *session) senderLoop() {
	for {
		msg, ok := s.receive()
		if !ok {
			return
		}

		if err := s.handleCommand(msg); err != nil {
			if !errors.Is(err, errSessionDone) {
				s.logTransportError("reply failed", err)
			}
			return
		}
	}
}

func (s *session) handleCommand(msg protocol.Message) error {
	s.logger.Debug("command", "tag", msg.Tag)

	switch msg.Tag {
	case protocol.TagJoin:
		return s.join(msg.Data)
	case protocol.TagLeave:
		return s.leave()
	case protocol.TagSendAll:
		return s.sendAll(msg.Data)
	case protocol.TagQuit:
		if err := s.send(protocol.New(protocol.TagOK, okQuit)); err != nil {
			return err
		}
		s.logger.Info("user quit")
		return errSessionDone
	case protocol.TagSLogin, protocol.TagRLogin:
		return s.sendErr(reasonAlreadyLoggedIn)
	case protocol.TagErr:
		return s.sendErr(protocol.TagErr)
	default:
		return s.sendErr(reasonUnsupported)
	}
}

// join moves the session into the named room, leaving any previous one.
// Re-joining the current room changes nothing.
func (s *session) join(name string) error {
	if err := protocol.ValidateName(name); err != nil {
		return s.sendErr(err.Error())
	}

	if s.room == nil || s.room.Name() != name {
		if s.room != nil {
			s.room.RemoveMember(s.user)
			s.logger.Info("left room", "room", s.room.Name())
		}
		s.room = s.srv.rooms.FindOrCreate(name)
		s.room.AddMember(s.user)
		s.logger.Info("joined room", "room", name)
	}

	return s.send(protocol.New(protocol.TagOK, name))
}

func (s *session) leave() error {
	if s.room == nil {
		return s.sendErr(reasonNotInRoom)
	}

	s.room.RemoveMember(s.user)
	s.logger.Info("left room", "room", s.room.Name())
	s.room = nil
	return s.send(protocol.New(protocol.TagOK, ""))
}

func (s *session) sendAll(text string) error {
	if s.room == nil {
		return s.sendErr(reasonNotInRoom)
	}

	if err := protocol.NewDelivery(s.room.Name(), s.user.Username, text).Validate(); err != nil {
		s.logger.Debug("rejecting broadcast", "error", err)
		if errors.Is(err, protocol.ErrTooLong) {
			return s.sendErr(reasonMessageTooLong)
		}
		return s.sendErr(reasonInvalidText)
	}

	n := s.room.Broadcast(s.user.Username, text)
	s.logger.Debug("broadcast", "room", s.room.Name(), "recipients", n)

	if s.srv.relay != nil {
		if err := s.srv.relay.Publish(s.room.Name(), s.user.Username, text); err != nil {
			s.logger.Warn("relay publish failed", "room", s.room.Name(), "error", err)
		}
	}

	return s.send(protocol.New(protocol.TagOK, text))
}

func (s *session) receiverLoop() {
	msg, ok := s.receive()
	if !ok {
		return
	}

	if msg.Tag != protocol.TagJoin {
		s.replyErr(reasonJoinRequired)
		return
	}
	if err := protocol.ValidateName(msg.Data); err != nil {
		s.replyErr(err.Error())
		return
	}

	s.room = s.srv.rooms.FindOrCreate(msg.Data)
	s.room.AddMember(s.user)
	s.logger.Info("receiver joined room", "room", msg.Data)
	if !s.reply(protocol.TagOK, msg.Data) {
		return
	}

	var quit atomic.Bool
	go s.watch(s.user.Inbox, &quit)

	for {
		delivery, err := s.user.Inbox.Dequeue(context.Background())
		if err != nil {
			if quit.Load() {
				s.reply(protocol.TagOK, okQuit)
			}
			return
		}

		delivery.Tag = protocol.TagDelivery
		err = s.conn.Send(delivery)
		if err == nil {
			continue
		}
		if transport.StatusOf(err) == transport.InvalidMessage {
			s.logger.Debug("delivery rejected", "error", err)
			if s.sendErr(reasonDeliveryTooLong) == nil {
				continue
			}
		}
		s.logTransportError("delivery failed", err)
		return
	}
}

// watch keeps reading the receiver's connection so a peer close or quit
// shuts the inbox down and unblocks the delivery loop. Other records are
// ignored.
func (s *session) watch(box *inbox.Inbox, quit *atomic.Bool) {
	defer box.Shutdown()

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if transport.StatusOf(err) != transport.InvalidMessage {
				s.logTransportError("receiver connection ended", err)
				return
			}
			s.logger.Debug("ignoring malformed record from receiver", "error", err)
			continue
		}
		if msg.Tag == protocol.TagQuit {
			quit.Store(true)
			s.logger.Info("receiver quit")
			return
		}
		s.logger.Debug("ignoring record from receiver", "tag", msg.Tag)
	}
}

func (s *session) send(msg protocol.Message) error {
	if err := s.conn.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Tag, err)
	}
	return nil
}

// sendErr falls back to a fixed reason when reason does not fit a record.
func (s *session) sendErr(reason string) error {
	err := s.send(protocol.New(protocol.TagErr, reason))
	if err != nil && transport.StatusOf(err) == transport.InvalidMessage {
		s.logger.Debug("err reason rejected", "error", err)
		return s.send(protocol.New(protocol.TagErr, reasonInvalidMessage))
	}
	return err
}

// reply sends msg and reports whether the session may continue.
func (s *session) reply(tag, data string) bool {
	if err := s.send(protocol.New(tag, data)); err != nil {
		s.logTransportError("reply failed", err)
		return false
	}
	return true
}

func (s *session) replyErr(reason string) {
	if err := s.sendErr(reason); err != nil {
		s.logTransportError("reply failed", err)
	}
}

func (s *session) logTransportError(msg string, err error) {
	if transport.IsExpectedClose(err) {
		s.logger.Debug(msg, "error", err)
		return
	}
	s.logger.Warn(msg, "error", err)
}

func validateRelayEvent(ev bridge.Event) error {
	if err := protocol.ValidateName(ev.Room); err != nil {
		return fmt.Errorf("room: %w", err)
	}
	if err := protocol.ValidateName(ev.Sender); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if err := protocol.NewDelivery(ev.Room, ev.Sender, ev.Text).Validate(); err != nil {
		return fmt.Errorf("text: %w", err)
	}
	return nil
}
