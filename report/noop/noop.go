package noop

import "github.com/ozontech/rrelay/relay/types"

type Noop struct {
	close chan struct{}
}

func New() *Noop {
	return &Noop{make(chan struct{})}
}

func (m *Noop) Run() error {
	<-m.close
	return nil
}

func (m *Noop) Close() error {
	close(m.close)
	return nil
}

func (m *Noop) Acquire(uint64) types.FrameState {
	return noopState{}
}

type noopState struct{}

func (noopState) SetSize(int, int) {}
func (noopState) OnStrip(int)      {}
func (noopState) Spoiled(int)      {}
func (noopState) IoError(error)    {}
func (noopState) End()             {}
