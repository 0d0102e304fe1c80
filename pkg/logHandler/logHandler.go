package logHandler

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// subscriptionCapacity should be more than enough for a listener that keeps up with blocks
const subscriptionCapacity = 100

type ILogHandler interface {
	HandleLogs(ctx context.Context, logs []*types.Log)
	Subscribe() *Subscription
	ListenToChannel(ctx context.Context, sub *Subscription, handleFunc func(*types.Log))
}

// Subscription is one listener's view of the log stream
type Subscription struct {
	id      uint64
	LogChan chan *types.Log
	handler *LogHandler
}

// Unsubscribe stops delivery and closes LogChan
func (s *Subscription) Unsubscribe() {
	s.handler.unsubscribe(s)
}

// LogHandler fans out logs from mined receipts to every subscriber
type LogHandler struct {
	mu     sync.Mutex
	nextId uint64
	subs   map[uint64]*Subscription
	logger *zap.Logger
}

func NewLogHandler(logger *zap.Logger) *LogHandler {
	return &LogHandler{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

func (h *LogHandler) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextId++
	sub := &Subscription{
		id:      h.nextId,
		LogChan: make(chan *types.Log, subscriptionCapacity),
		handler: h,
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *LogHandler) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.LogChan)
}

// SubscriberCount reports the number of live subscriptions
func (h *LogHandler) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *LogHandler) ListenToChannel(ctx context.Context, sub *Subscription, handleFunc func(*types.Log)) {
	for {
		select {
		case log, ok := <-sub.LogChan:
			if !ok {
				return
			}
			handleFunc(log)
		case <-ctx.Done():
			h.logger.Sugar().Debugw("LogHandler listener exiting due to context done", "subscription", sub.id)
			return
		}
	}
}

// HandleLogs never blocks the block producer: a full subscriber misses the log
func (h *LogHandler) HandleLogs(ctx context.Context, logs []*types.Log) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, log := range logs {
		for id, sub := range h.subs {
			select {
			case sub.LogChan <- log:
			case <-ctx.Done():
				h.logger.Sugar().Warnw("Context done before delivering log", "block", log.BlockNumber, "index", log.Index)
				return
			default:
				h.logger.Sugar().Warnw("Log channel is full, dropping log",
					"subscription", id,
					"block", log.BlockNumber,
					"index", log.Index,
				)
			}
		}
	}
}
