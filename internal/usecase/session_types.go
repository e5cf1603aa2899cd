package usecase

import (
	"context"
	"sync"

	"lumi/internal/domain"
	"lumi/internal/ports"
)

// driveSession owns the push subscriptions of one drive. It is created by StartDrive
// and discarded by StopDrive; nothing else opens or closes its subscriptions.
type driveSession struct {
	id     string
	cancel context.CancelFunc
	subs   map[domain.StreamKind]ports.Subscription

	watchers sync.WaitGroup
}

func newDriveSession(id string, cancel context.CancelFunc) *driveSession {
	return &driveSession{
		id:     id,
		cancel: cancel,
		subs:   make(map[domain.StreamKind]ports.Subscription, len(domain.AllStreamKinds)),
	}
}

// close releases every subscription without waiting for their goroutines.
func (s *driveSession) close() {
	for _, sub := range s.subs {
		_ = sub.Close()
	}
	s.cancel()
}

// wait joins the subscription goroutines and their watchers. Must not be called
// with the controller lock held.
func (s *driveSession) wait() {
	for _, sub := range s.subs {
		<-sub.Done()
	}
	s.watchers.Wait()
}
