package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wI2L/jsondiff"

	"gihan9a/docpatch/internal/coordinator"
	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/internal/utils"
	"gihan9a/docpatch/pkg/patchproto"
)

const (
	subscriptionQueueSize = 32
	streamWriteWait       = 10 * time.Second
)

var (
	errSubscriptionClosed = errors.New("subscription closed")
	errSubscriberStalled  = errors.New("subscriber is not keeping up")
)

// Subscription is one client following a document. Updates are diffs
// against the last state queued for the client and are written by the
// subscription's own goroutine, so a slow client never holds up a writer.
type Subscription struct {
	ID       string
	Resource string

	mu      sync.Mutex
	closed  bool
	last    []byte
	version int64
	queue   chan *patchproto.Update
	done    chan struct{}
	stopped chan struct{}

	wmu  sync.Mutex // serializes writes to the client
	emit func(u *patchproto.Update) error
}

func (sub *Subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.done)
	}
}

// write runs fn with exclusive access to the client connection.
func (sub *Subscription) write(fn func() error) error {
	sub.wmu.Lock()
	defer sub.wmu.Unlock()
	select {
	case <-sub.done:
		return errSubscriptionClosed
	default:
	}
	return fn()
}

// run drains the queue until the subscription closes or a write fails.
func (sub *Subscription) run(fail func(error)) {
	defer close(sub.stopped)
	for {
		select {
		case <-sub.done:
			return
		case u := <-sub.queue:
			if err := sub.write(func() error { return sub.emit(u) }); err != nil {
				fail(err)
				return
			}
		}
	}
}

// deliver queues doc unless the client has already been sent this version
// or a later one. The first delivery carries the full body. A full queue
// means the client stopped reading and is reported as errSubscriberStalled.
func (sub *Subscription) deliver(doc *document.Document, body []byte) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return errSubscriptionClosed
	}
	if doc.Version <= sub.version {
		return nil
	}
	u := &patchproto.Update{
		ID:      sub.Resource,
		Version: []string{utils.FormatVersion(doc.Version)},
		Parents: []string{},
	}
	if sub.last == nil {
		u.Body = body
	} else {
		u.Parents = append(u.Parents, utils.FormatVersion(sub.version))
		ops, err := diff(sub.last, body)
		if err != nil {
			u.Body = body
		} else {
			u.Patches = ops
		}
	}
	if u.Body == nil && len(u.Patches) == 0 {
		sub.version = doc.Version
		return nil
	}
	select {
	case sub.queue <- u:
	default:
		return errSubscriberStalled
	}
	sub.last = body
	sub.version = doc.Version
	return nil
}

// diff computes the patch turning from into to.
func diff(from, to []byte) ([]patchproto.Operation, error) {
	p, err := jsondiff.CompareJSON(from, to)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var ops []patchproto.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// AddSubscription registers a subscription for a resource. emit is called
// from the subscription's goroutine, one update at a time.
func (s *Server) AddSubscription(resourceID string, emit func(u *patchproto.Update) error) *Subscription {
	sub := &Subscription{
		ID:       utils.GenerateRandomID(),
		Resource: resourceID,
		queue:    make(chan *patchproto.Update, subscriptionQueueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		emit:     emit,
	}

	s.mu.Lock()
	if _, exists := s.subscriptions[resourceID]; !exists {
		s.subscriptions[resourceID] = make(map[string]*Subscription)
	}
	s.subscriptions[resourceID][sub.ID] = sub
	s.mu.Unlock()

	go sub.run(func(err error) { s.dropSubscription(sub, err) })
	s.log.Debug("added subscription", "subscription", sub.ID, "resource", resourceID)
	return sub
}

// dropSubscription unregisters and closes sub after a delivery failure.
func (s *Server) dropSubscription(sub *Subscription, err error) {
	if !errors.Is(err, errSubscriptionClosed) {
		s.log.Warn("dropping subscriber", "subscription", sub.ID, "resource", sub.Resource, "err", err)
	}
	s.RemoveSubscription(sub.Resource, sub.ID)
	sub.close()
}

// RemoveSubscription removes a subscription
func (s *Server) RemoveSubscription(resourceID, subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subs, exists := s.subscriptions[resourceID]; exists {
		delete(subs, subID)
		s.log.Debug("removed subscription", "subscription", subID, "resource", resourceID)

		if len(subs) == 0 {
			delete(s.subscriptions, resourceID)
		}
	}
}

func (s *Server) onCommit(_ context.Context, c coordinator.Commit) {
	s.notifySubscribers(c.Current)
}

// notifySubscribers sends doc to every subscriber of its resource
func (s *Server) notifySubscribers(doc *document.Document) {
	s.mu.RLock()
	subs := make([]*Subscription, 0, len(s.subscriptions[doc.ID]))
	for _, sub := range s.subscriptions[doc.ID] {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	body, err := doc.Root.MarshalJSON()
	if err != nil {
		s.log.Error("encoding document for subscribers", "resource", doc.ID, "err", err)
		return
	}

	s.log.Debug("notifying subscribers", "resource", doc.ID, "count", len(subs), "version", doc.Version)
	for _, sub := range subs {
		if err := sub.deliver(doc, body); err != nil {
			s.dropSubscription(sub, err)
		}
	}
}

// catchUp sends the latest version of a freshly registered subscription's
// resource, covering commits made between the initial read and registration.
func (s *Server) catchUp(ctx context.Context, sub *Subscription) {
	doc, err := s.coord.Get(ctx, sub.Resource)
	if err != nil {
		return
	}
	body, err := doc.Root.MarshalJSON()
	if err != nil {
		return
	}
	sub.deliver(doc, body)
}

// subscribe streams updates of doc until the client goes away.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, doc *document.Document, body []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Subscribe", "true")
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(209) // 209 is the status code for a successful subscription

	rc := http.NewResponseController(w)
	sub := s.AddSubscription(doc.ID, func(u *patchproto.Update) error {
		// Not every ResponseWriter supports deadlines; ignore ErrNotSupported.
		rc.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := writeStreamUpdate(w, u); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	defer func() {
		s.RemoveSubscription(doc.ID, sub.ID)
		sub.close()
		// w must not be written once the handler returns.
		<-sub.stopped
		rc.SetWriteDeadline(time.Time{})
	}()

	if err := sub.deliver(doc, body); err != nil {
		return
	}
	s.catchUp(r.Context(), sub)

	select {
	case <-r.Context().Done():
	case <-sub.done:
	}
}

// writeStreamUpdate writes one update in the braid subscription framing.
func writeStreamUpdate(w http.ResponseWriter, u *patchproto.Update) error {
	fmt.Fprintf(w, "Version: %s\r\n", strings.Join(u.Version, ", "))
	fmt.Fprintf(w, "Parents: %s\r\n", strings.Join(u.Parents, ", "))

	if u.Body != nil {
		fmt.Fprintf(w, "Content-Length: %d\r\n", len(u.Body))
		fmt.Fprintf(w, "\r\n")
		if _, err := w.Write(u.Body); err != nil {
			return err
		}
	} else {
		if len(u.Patches) > 1 {
			fmt.Fprintf(w, "Patches: %d\r\n\r\n", len(u.Patches))
		}
		for i, op := range u.Patches {
			if i > 0 {
				fmt.Fprintf(w, "\r\n\r\n")
			}
			value := op.Value
			if value == nil {
				value = json.RawMessage("null")
			}
			fmt.Fprintf(w, "Content-Length: %d\r\n", len(value))
			fmt.Fprintf(w, "Content-Range: %s %s\r\n", op.Op, op.Path)
			fmt.Fprintf(w, "\r\n")
			if _, err := w.Write(value); err != nil {
				return err
			}
		}
	}

	// Separator between updates
	_, err := fmt.Fprintf(w, "\r\n\r\n")
	return err
}
