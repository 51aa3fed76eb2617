// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and carries key actions back to the player
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg is a volume or mute change made in the TUI.
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// Controls carries user actions out of the TUI. Sends never block; when
// the player falls behind, the oldest pending change is replaced.
type Controls struct {
	Location chan float64
	Volume   chan VolumeChangeMsg
	Quit     chan struct{}
}

// NewControls creates the control channels.
func NewControls() *Controls {
	return &Controls{
		Location: make(chan float64, 1),
		Volume:   make(chan VolumeChangeMsg, 1),
		Quit:     make(chan struct{}),
	}
}

func (c *Controls) sendLocation(x float64) {
	if c == nil {
		return
	}
	for {
		select {
		case c.Location <- x:
			return
		default:
		}
		select {
		case <-c.Location:
		default:
		}
	}
}

func (c *Controls) sendVolume(v VolumeChangeMsg) {
	if c == nil {
		return
	}
	for {
		select {
		case c.Volume <- v:
			return
		default:
		}
		select {
		case <-c.Volume:
		default:
		}
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case <-c.Quit:
	default:
		close(c.Quit)
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls, location float64) Model {
	return Model{
		state:    "disconnected",
		location: location,
		volume:   100,
		controls: controls,
	}
}

// Program is a TUI running on its own goroutine.
type Program struct {
	prog *tea.Program
	done chan struct{}
	err  error
}

// Run starts the TUI in the background and returns at once, so Send may
// be called straight away. opts are appended to the alt-screen default.
func Run(controls *Controls, location float64, opts ...tea.ProgramOption) *Program {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	p := &Program{
		prog: tea.NewProgram(NewModel(controls, location), opts...),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		_, p.err = p.prog.Run()
	}()
	return p
}

// Send delivers msg to the model. It returns without delivering once the
// program has exited. Safe on a nil Program.
func (p *Program) Send(msg tea.Msg) {
	if p == nil {
		return
	}
	select {
	case <-p.done:
	default:
		p.prog.Send(msg)
	}
}

// Done is closed when the program exits, for example after q.
func (p *Program) Done() <-chan struct{} { return p.done }

// Err returns the error the program exited with. Valid after Done.
func (p *Program) Err() error {
	<-p.done
	return p.err
}

// Stop quits the program, restores the terminal and waits for exit.
func (p *Program) Stop() error {
	if p == nil {
		return nil
	}
	p.prog.Quit()
	return p.Err()
}
