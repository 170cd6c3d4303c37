package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
)

// dialTimeout bounds the websocket handshake.
const dialTimeout = 10 * time.Second

// subscribeFrame is the request sent after the handshake to open a shape.
type subscribeFrame struct {
	Table      string `json:"table"`
	Where      string `json:"where"`
	PrimaryKey string `json:"primary_key"`
}

// changeFrame is one message from the feed service. Op is "snapshot" for
// the initial full sync, "insert"/"update"/"delete" for row changes,
// "up-to-date" once the snapshot and backlog have been delivered, and
// "error" for a terminal server-side failure.
type changeFrame struct {
	Op      string            `json:"op"`
	Item    *model.InboxItem  `json:"item,omitempty"`
	Items   []model.InboxItem `json:"items,omitempty"`
	ID      int64             `json:"id,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Transport opens shape subscriptions over a websocket connection and
// applies incoming row changes to the mirror.
type Transport struct {
	url     string
	token   string
	applier store.ChangeApplier
	log     *zap.Logger
}

// NewWebsocketTransport creates a Transport that dials url and writes
// changes through applier. token, when non-empty, is sent as a Bearer
// header during the handshake.
func NewWebsocketTransport(url, token string, applier store.ChangeApplier, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{url: url, token: token, applier: applier, log: log}
}

// SyncShape dials the feed service, sends the subscribe request, and
// starts the read loop that keeps the mirror current.
func (t *Transport) SyncShape(ctx context.Context, req ShapeRequest) (ShapeHandle, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if t.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + t.token}}
	}

	conn, _, err := websocket.Dial(dialCtx, t.url, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing feed service: %w", err)
	}

	if err := wsjson.Write(ctx, conn, subscribeFrame{
		Table:      req.Table,
		Where:      req.Where(),
		PrimaryKey: req.PrimaryKey,
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("sending subscribe request: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	h := &wsHandle{
		conn:  conn,
		stop:  stop,
		ready: make(chan struct{}),
	}

	go h.readLoop(runCtx, t, req)

	return h, nil
}

// wsHandle is one live websocket shape subscription.
type wsHandle struct {
	conn  *websocket.Conn
	stop  context.CancelFunc
	ready chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

func (h *wsHandle) Ready() <-chan struct{} { return h.ready }

func (h *wsHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *wsHandle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// Close cancels the read loop and releases the connection exactly once.
func (h *wsHandle) Close() error {
	h.closeOnce.Do(func() {
		h.stop()
		h.closeErr = h.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return h.closeErr
}

// readLoop consumes change frames until the connection dies or the handle
// is closed, applying each change to the mirror.
func (h *wsHandle) readLoop(ctx context.Context, t *Transport, req ShapeRequest) {
	for {
		var frame changeFrame
		if err := wsjson.Read(ctx, h.conn, &frame); err != nil {
			if ctx.Err() == nil {
				h.setErr(fmt.Errorf("reading change frame: %w", err))
				t.log.Warn("feed read loop ended",
					zap.String("owner", req.OwnerID), zap.Error(err))
			}
			return
		}

		switch frame.Op {
		case "snapshot":
			if err := t.applier.ReplaceWindow(ctx, req.OwnerID, req.Cutoff, frame.Items); err != nil {
				t.log.Warn("applying snapshot failed", zap.Error(err))
			}
		case "insert", "update":
			if frame.Item == nil {
				continue
			}
			if err := t.applier.ApplyUpsert(ctx, *frame.Item); err != nil {
				t.log.Warn("applying row change failed",
					zap.Int64("id", frame.Item.ID), zap.Error(err))
			}
		case "delete":
			if err := t.applier.ApplyDelete(ctx, req.OwnerID, frame.ID); err != nil {
				t.log.Warn("applying row delete failed",
					zap.Int64("id", frame.ID), zap.Error(err))
			}
		case "up-to-date":
			h.readyOnce.Do(func() { close(h.ready) })
		case "error":
			h.setErr(errors.New("feed service error: " + frame.Message))
			return
		default:
			t.log.Debug("ignoring unknown feed frame", zap.String("op", frame.Op))
		}
	}
}
