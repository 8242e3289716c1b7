package utils

import (
	"context"
)

// Session ties a component's lifetime to a cancellable context.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSession(ctx context.Context) Session {
	ctx, cancel := context.WithCancel(ctx)
	return Session{ctx: ctx, cancel: cancel}
}

func (s *Session) Ctx() context.Context {
	return s.ctx
}

func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) IsDone() bool {
	return s.ctx.Err() != nil
}

// Cancel ends the session. It is safe to call more than once.
func (s *Session) Cancel() {
	s.cancel()
}
