package push

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openacad/activity-service/internal/domain/model"
)

var _ Connector = (*connect)(nil)

// Connector is one authenticated push session. The transport layer reads
// outbound frames from Recv and writes them to its socket; delivery filtering
// happens here so two sessions of the same principal never leak each other's
// subscriptions.
type Connector interface {
	ID() uuid.UUID
	PrincipalID() string
	// Subscribe binds a route (recipient#stream) to a serialization format.
	// A route may be subscribed in several formats at once; each format gets
	// its own copy of a delivery.
	Subscribe(routeID string, format model.Format)
	Unsubscribe(routeID string)
	// Subscribed reports whether the session accepts frames of the given
	// route and format.
	Subscribed(routeID string, format model.Format) bool
	// Send enqueues a frame with backpressure handling. Returns false when
	// the session is closed or the frame was dropped.
	Send(frame *Frame, timeout time.Duration) bool
	Recv() <-chan *Frame
	Close()
}

type connect struct {
	id          uuid.UUID
	principalID string
	createdAt   time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh chan *Frame

	// subscriptions maps route id to the formats the session negotiated.
	subMu         sync.RWMutex
	subscriptions map[string]map[model.Format]bool

	droppedCount uint64
}

// Pooled to keep churn off the GC during reconnect storms.
var connectPool = sync.Pool{
	New: func() any {
		return &connect{}
	},
}

func NewConnector(ctx context.Context, principalID string, bufferSize int) Connector {
	c := connectPool.Get().(*connect)

	childCtx, cancel := context.WithCancel(ctx)

	c.id = uuid.New()
	c.principalID = principalID
	c.createdAt = time.Now()
	c.ctx = childCtx
	c.cancelFn = cancel
	c.sendCh = make(chan *Frame, bufferSize)
	c.subscriptions = make(map[string]map[model.Format]bool)

	atomic.StoreUint64(&c.droppedCount, 0)

	return c
}

func (c *connect) ID() uuid.UUID       { return c.id }
func (c *connect) PrincipalID() string { return c.principalID }

func (c *connect) Subscribe(routeID string, format model.Format) {
	c.subMu.Lock()
	if c.subscriptions[routeID] == nil {
		c.subscriptions[routeID] = make(map[model.Format]bool)
	}
	c.subscriptions[routeID][format] = true
	c.subMu.Unlock()
}

func (c *connect) Unsubscribe(routeID string) {
	c.subMu.Lock()
	delete(c.subscriptions, routeID)
	c.subMu.Unlock()
}

func (c *connect) Subscribed(routeID string, format model.Format) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[routeID][format]
}

func (c *connect) Send(frame *Frame, timeout time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- frame:
		return true
	default:
	}

	// Full buffer: control frames wait out the timeout, deliveries drop
	// immediately since the client resyncs from the stream store anyway.
	if frame.Type == FrameDelivery {
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}
	select {
	case c.sendCh <- frame:
		return true
	case <-c.ctx.Done():
	case <-time.After(timeout):
	}
	atomic.AddUint64(&c.droppedCount, 1)
	return false
}

func (c *connect) Recv() <-chan *Frame { return c.sendCh }

func (c *connect) Close() {
	c.cancelFn()

	// Reset pointers so pooled objects hold nothing alive.
	c.sendCh = nil
	c.subscriptions = nil

	connectPool.Put(c)
}
