package multi

import (
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/rrelay/relay/types"
	"github.com/ozontech/rrelay/utils/pool"
)

type Multi struct {
	nested []types.Reporter
	pool   *pool.SlicePool[*multiState]
}

func New(nested ...types.Reporter) *Multi {
	return &Multi{
		nested,
		pool.NewSlicePoolSize[*multiState](16, nil),
	}
}

func (m *Multi) Run() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Run)
	}
	return g.Wait()
}

func (m *Multi) Close() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Close)
	}
	return g.Wait()
}

func (m *Multi) Acquire(seq uint64) types.FrameState {
	ms, ok := m.pool.Acquire()
	if !ok {
		ms = &multiState{multi: m, states: make([]types.FrameState, len(m.nested))}
	}

	for i, r := range m.nested {
		ms.states[i] = r.Acquire(seq)
	}
	return ms
}

type multiState struct {
	multi  *Multi
	states []types.FrameState
}

func (s *multiState) SetSize(width, height int) {
	for _, s := range s.states {
		s.SetSize(width, height)
	}
}

func (s *multiState) OnStrip(size int) {
	for _, s := range s.states {
		s.OnStrip(size)
	}
}

func (s *multiState) Spoiled(strips int) {
	for _, s := range s.states {
		s.Spoiled(strips)
	}
}

func (s *multiState) IoError(err error) {
	for _, s := range s.states {
		s.IoError(err)
	}
}

func (s *multiState) End() {
	for i, st := range s.states {
		st.End()
		s.states[i] = nil
	}
	s.multi.pool.Release(s)
}
