package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/notify"
	"github.com/akonadi-go/akonadi/internal/payload"
	"github.com/akonadi-go/akonadi/internal/retriever"
	"github.com/akonadi-go/akonadi/internal/search"
	"github.com/akonadi-go/akonadi/internal/txn"
)

// Deps bundles the storage-layer collaborators every session shares.
// Sessions read/write against the same *entities.Store concurrently
// with other sessions and the background workers; mutation safety
// comes from internal/txn's transactions, not from serializing access
// here.
type Deps struct {
	Entities  *entities.Store
	Payload   *payload.Store
	Txn       *txn.Manager
	Hub       *notify.Hub
	Retriever *retriever.Retriever
	Search    *search.Manager
}

// Session is one client connection's protocol state machine.
type Session struct {
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	deps  Deps
	log   *slog.Logger
	state State

	clientID           string
	selectedCollection int64

	sub        *notify.Subscription
	subCancel  context.CancelFunc
	writeMu    sync.Mutex
}

// New wraps conn as a fresh, NonAuthenticated session.
func New(conn net.Conn, deps Deps, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		conn:  conn,
		r:     bufio.NewReader(conn),
		w:     bufio.NewWriter(conn),
		deps:  deps,
		log:   log,
		state: NonAuthenticated,
	}
}

// Run reads and dispatches frames until the connection closes, the
// client logs out, or ctx is cancelled. Frames are handled one at a
// time in arrival order, so the response to a request is always
// written before the next request is read — the ordering guarantee in
// spec §5 falls out of this loop's structure rather than needing
// explicit tag bookkeeping.
func (s *Session) Run(ctx context.Context) {
	defer s.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := ReadFrame(s.r)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Debug("session: connection closed", "error", err)
			}
			return
		}

		if !allowedIn(frame.Kind, s.state) {
			s.writeError(frame.Tag, &ErrWrongState{Command: frame.Kind, Current: s.state})
			continue
		}

		if err := s.dispatch(ctx, frame); err != nil {
			s.writeError(frame.Tag, err)
		}

		if s.state == LoggedOut {
			return
		}
	}
}

func (s *Session) cleanup() {
	if s.subCancel != nil {
		s.subCancel()
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.conn.Close()
}

func (s *Session) dispatch(ctx context.Context, f Frame) error {
	switch f.Kind {
	case CmdHello:
		return s.handleHello(f)
	case CmdLogin:
		return s.handleLogin(ctx, f)
	case CmdLogout:
		return s.handleLogout(f)
	case CmdSelect:
		return s.handleSelect(ctx, f)
	case CmdCreateItem:
		return s.handleCreateItem(ctx, f)
	case CmdFetchItems:
		return s.handleFetchItems(ctx, f)
	case CmdStoreItem:
		return s.handleStoreItem(ctx, f)
	case CmdDeleteItem:
		return s.handleDeleteItem(ctx, f)
	case CmdMoveItem:
		return s.handleMoveItems(ctx, f)
	case CmdCopyItem:
		return s.handleCopyItems(ctx, f)
	case CmdModifyFlags:
		return s.handleModifyFlags(ctx, f)
	case CmdModifyTags:
		return s.handleModifyTags(ctx, f)
	case CmdLinkItem:
		return s.handleLinkItem(ctx, f)
	case CmdUnlinkItem:
		return s.handleUnlinkItem(ctx, f)
	case CmdCreateCollection:
		return s.handleCreateCollection(ctx, f)
	case CmdDeleteCollection:
		return s.handleDeleteCollection(ctx, f)
	case CmdModifyCollection:
		return s.handleModifyCollection(ctx, f)
	case CmdFetchCollections:
		return s.handleFetchCollections(ctx, f)
	case CmdSearch:
		return s.handleSearch(ctx, f)
	case CmdSubscribe:
		return s.handleSubscribe(ctx, f)
	case CmdUnsubscribe:
		return s.handleUnsubscribe(f)
	default:
		return fmt.Errorf("session: unhandled command %s", f.Kind)
	}
}

// writeError writes a failure response. A revision-conflict error gets
// the distinguishable CmdConflict frame kind (spec §8 "failure
// response kind=Conflict") instead of the generic CmdError.
func (s *Session) writeError(tag uint64, err error) {
	kind := CmdError
	if errors.Is(err, entities.ErrConflict) {
		kind = CmdConflict
	}
	fw := NewFieldWriter()
	msg := err.Error()
	fw.WriteString(&msg)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if wErr := WriteFrame(s.w, tag, kind, fw.Bytes()); wErr != nil {
		s.log.Warn("session: failed to write error frame", "error", wErr)
	}
}

func (s *Session) writeResponse(tag uint64, fw *FieldWriter) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.w, tag, CmdResponse, fw.Bytes())
}

// writeNotification pushes an unsolicited batch to the client, tagged
// 0 since it answers no particular request (spec §4.9/§6 response
// kinds: NOTIFICATION is server-initiated).
func (s *Session) writeNotification(changes []notify.Change) error {
	fw := encodeChanges(NewFieldWriter(), changes)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.w, 0, CmdNotification, fw.Bytes())
}
