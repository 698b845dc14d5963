package placement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLauncher struct {
	done chan error
}

func newFakeLauncher() *fakeLauncher { return &fakeLauncher{done: make(chan error, 1)} }

func (f *fakeLauncher) Launch(ctx context.Context, req SpawnRequest) (context.CancelFunc, <-chan error) {
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-runCtx.Done()
		f.done <- runCtx.Err()
	}()
	return cancel, f.done
}

func TestInProcessBackend_SpawnReportsRunningUntilStopped(t *testing.T) {
	launcher := newFakeLauncher()
	backend := NewInProcessBackend(launcher)

	h, err := backend.Spawn(context.Background(), SpawnRequest{RoomURL: "https://room/r1"})
	require.NoError(t, err)
	assert.Equal(t, "in_process", h.Backend)

	running, err := backend.IsRunning(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, waitErrIsCancel(backend.Stop(context.Background(), h)))

	running, err = backend.IsRunning(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, running)
}

func waitErrIsCancel(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func TestInProcessBackend_IsRunningFalseForUnknownHandle(t *testing.T) {
	backend := NewInProcessBackend(newFakeLauncher())
	running, err := backend.IsRunning(context.Background(), Handle{Backend: "in_process", Value: "nope"})
	require.NoError(t, err)
	assert.False(t, running)
}

func TestNewFunctionBackend_UnavailableWhenUnconfigured(t *testing.T) {
	_, err := NewFunctionBackend(FunctionConfig{})
	require.Error(t, err)
	var unavailable *ErrUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestNewVMBackend_UnavailableWhenUnconfigured(t *testing.T) {
	_, err := NewVMBackend(VMConfig{}, "")
	require.Error(t, err)
	var unavailable *ErrUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestBotConfigJSON_NilYieldsEmptyObject(t *testing.T) {
	s, err := botConfigJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)
}

func TestInProcessBackend_StopTimesOutBoundedByContext(t *testing.T) {
	// A launcher whose task never exits, to exercise Stop's bounded wait.
	backend := NewInProcessBackend(launcherFunc(func(ctx context.Context, _ SpawnRequest) (context.CancelFunc, <-chan error) {
		_, cancel := context.WithCancel(ctx)
		never := make(chan error)
		return cancel, never
	}))

	h, err := backend.Spawn(context.Background(), SpawnRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = backend.Stop(ctx, h)
	require.Error(t, err)
}

type launcherFunc func(ctx context.Context, req SpawnRequest) (context.CancelFunc, <-chan error)

func (f launcherFunc) Launch(ctx context.Context, req SpawnRequest) (context.CancelFunc, <-chan error) {
	return f(ctx, req)
}
