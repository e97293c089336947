package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mdouchement/fanctrld/target"
)

const (
	eventWatch   = "watch"
	eventUnwatch = "unwatch"
)

type event struct {
	name      string
	monitorID int64
	monitor   chan []byte
}

// Run feeds the monitor streams with a snapshot of every channel each interval.
// It returns when ctx is done, closing every stream.
func (a *API) Run(ctx context.Context, interval time.Duration) {
	defer close(a.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	watchers := map[int64]chan []byte{}
	defer func() {
		for _, watcher := range watchers {
			close(watcher)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-a.events:
			switch e.name {
			case eventWatch:
				watchers[e.monitorID] = e.monitor
				a.watching.Store(int64(len(watchers)))
				a.log.Debugf("Monitor %d watching (%d total)", e.monitorID, len(watchers))
				a.broadcast(map[int64]chan []byte{e.monitorID: e.monitor})
			case eventUnwatch:
				if watcher, ok := watchers[e.monitorID]; ok {
					close(watcher)
					delete(watchers, e.monitorID)
					a.watching.Store(int64(len(watchers)))
				}
			}
		case <-ticker.C:
			if len(watchers) > 0 {
				a.broadcast(watchers)
			}
		}
	}
}

func (a *API) broadcast(watchers map[int64]chan []byte) {
	channels, err := a.engine.Snapshot()
	if errors.Is(err, target.ErrLockTimeout) {
		return // Next tick.
	}
	if err != nil {
		a.log.WithError(err).Error("Could not read channels")
		return
	}

	payload, err := json.Marshal(channels)
	if err != nil {
		a.log.WithError(err).Error("Could not serialize metrics") // Should never happen
		return
	}

	for id, watcher := range watchers {
		select {
		case watcher <- payload:
		default:
			a.log.Debugf("Monitor %d is lagging, dropping snapshot", id)
		}
	}
}

func (a *API) monitor(w http.ResponseWriter, r *http.Request) {
	a.log.Infof("Monitor connected from %s", r.RemoteAddr)

	// Set http headers required for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	disconnected := r.Context().Done()

	id := a.ids.Add(1)
	ch := make(chan []byte, 20)
	select {
	case a.events <- event{name: eventWatch, monitorID: id, monitor: ch}:
	case <-a.done:
		http.Error(w, "monitor stopped", http.StatusServiceUnavailable)
		return
	case <-disconnected:
		return
	}

	defer func() {
		select {
		case a.events <- event{name: eventUnwatch, monitorID: id}:
		case <-a.done:
		}
	}()

	rc := http.NewResponseController(w)
	for {
		select {
		case <-disconnected:
			a.log.Infof("Monitor disconnected from %s", r.RemoteAddr)
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}

			if err := WriteEvent(w, payload); err != nil {
				a.log.WithError(err).Error("Could not write monitor SSE payload")
				return
			}

			if err := rc.Flush(); err != nil {
				a.log.WithError(err).Error("Could not flush monitor SSE payload")
				return
			}
		}
	}
}
