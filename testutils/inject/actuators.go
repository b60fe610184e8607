package inject

import (
	"context"
	"sync"

	"github.com/mowtion/mower"
)

// DriveCommand is one recorded steering/throttle command.
type DriveCommand struct {
	Steering float64
	Throttle float64
}

// Drive is an injected drive. When no functions are injected it records
// every command for later inspection.
type Drive struct {
	mower.Drive
	SetSteeringThrottleFunc func(ctx context.Context, steering, throttle float64) error
	StopFunc                func(ctx context.Context) error

	mu       sync.Mutex
	commands []DriveCommand
	stops    int
}

// SetSteeringThrottle calls the injected function or records the command.
func (i *Drive) SetSteeringThrottle(ctx context.Context, steering, throttle float64) error {
	if i.SetSteeringThrottleFunc != nil {
		return i.SetSteeringThrottleFunc(ctx, steering, throttle)
	}
	i.mu.Lock()
	i.commands = append(i.commands, DriveCommand{Steering: steering, Throttle: throttle})
	i.mu.Unlock()
	return nil
}

// Stop calls the injected function or records the stop.
func (i *Drive) Stop(ctx context.Context) error {
	if i.StopFunc != nil {
		return i.StopFunc(ctx)
	}
	i.mu.Lock()
	i.stops++
	i.mu.Unlock()
	return nil
}

// Commands returns a copy of the recorded steering/throttle commands.
func (i *Drive) Commands() []DriveCommand {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]DriveCommand, len(i.commands))
	copy(out, i.commands)
	return out
}

// Stops returns how many stop commands were recorded.
func (i *Drive) Stops() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stops
}

// Blade is an injected blade actuator. When no function is injected it
// tracks the last commanded state.
type Blade struct {
	mower.Blade
	SetBladeFunc func(ctx context.Context, on bool) error

	mu sync.Mutex
	on bool
}

// SetBlade calls the injected function or records the state.
func (i *Blade) SetBlade(ctx context.Context, on bool) error {
	if i.SetBladeFunc != nil {
		return i.SetBladeFunc(ctx, on)
	}
	i.mu.Lock()
	i.on = on
	i.mu.Unlock()
	return nil
}

// On reports the last recorded blade state.
func (i *Blade) On() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.on
}
