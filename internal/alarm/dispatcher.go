package alarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/models"
)

// ErrQueueFull is returned when the dispatcher cannot accept a command
var ErrQueueFull = errors.New("command queue full")

// ErrDispatcherStopped is returned after Stop
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// CommandSender delivers one command to the gateway
type CommandSender interface {
	SendCommand(ctx context.Context, cmd *models.NodeCommand) error
}

// Dispatcher fans commands out to a fixed pool of workers. Each command is
// sent independently; a failed send is logged and does not hold up others.
type Dispatcher struct {
	sender  CommandSender
	workers int
	timeout time.Duration
	queue   chan *models.NodeCommand

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher
func NewDispatcher(sender CommandSender, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		sender:  sender,
		workers: workers,
		timeout: timeout,
		queue:   make(chan *models.NodeCommand, queueSize),
	}
}

// Start launches the workers
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	log.Info().Int("workers", d.workers).Msg("Command dispatcher started")
}

// Dispatch queues cmd without blocking
func (d *Dispatcher) Dispatch(cmd *models.NodeCommand) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- cmd:
		return nil
	default:
		log.Error().
			Str("hub_serial_id", cmd.HubSerialID.String()).
			Str("serial_id", cmd.SerialID.String()).
			Msg("Command queue full, dropping command")
		return ErrQueueFull
	}
}

// Stop stops accepting commands and waits for queued ones to be sent
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for cmd := range d.queue {
		d.send(ctx, cmd)
	}
}

func (d *Dispatcher) send(ctx context.Context, cmd *models.NodeCommand) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.sender.SendCommand(ctx, cmd); err != nil {
		log.Error().Err(err).
			Str("hub_serial_id", cmd.HubSerialID.String()).
			Str("serial_id", cmd.SerialID.String()).
			Str("type", string(cmd.Type)).
			Msg("Failed to send command")
		return
	}

	log.Debug().
		Str("hub_serial_id", cmd.HubSerialID.String()).
		Str("serial_id", cmd.SerialID.String()).
		Msg("Command sent")
}
