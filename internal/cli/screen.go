package cli

import (
	"context"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/internal/tui"
)

// screen forwards orchestrator output to the running program. Messages sent
// while no program is attached are dropped.
type screen struct {
	program atomic.Pointer[tea.Program]
}

func (s *screen) attach(program *tea.Program) { s.program.Store(program) }
func (s *screen) detach()                     { s.program.Store(nil) }

func (s *screen) send(msg tea.Msg) {
	if program := s.program.Load(); program != nil {
		program.Send(msg)
	}
}

func (s *screen) present(state, previous game.State) {
	s.send(tui.StateMsg{State: state, Previous: previous})
}

// Play shows effect on screen; it is the game's only effect output.
func (s *screen) Play(_ context.Context, effect string) error {
	s.send(tui.EffectMsg{Name: effect})
	return nil
}
