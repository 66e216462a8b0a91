package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Driver periodically evaluates whether a staking checkpoint is due and
// submits one when it is. Submission itself is delegated to CheckpointClient,
// which enforces its own cooldown, so the polling cadence only bounds how
// quickly a due checkpoint is noticed.
type Driver struct {
	log          log.Logger
	checkpoint   *CheckpointClient
	pollInterval time.Duration

	wg   sync.WaitGroup
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mutex   sync.Mutex
	running bool
}

func NewDriver(lgr log.Logger, checkpoint *CheckpointClient, pollInterval time.Duration) (*Driver, error) {
	if checkpoint == nil {
		return nil, errors.New("checkpoint client is required")
	}
	if pollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		log:          lgr,
		checkpoint:   checkpoint,
		pollInterval: pollInterval,
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (d *Driver) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.running {
		return errors.New("checkpoint driver is already running")
	}
	d.running = true

	d.wg.Add(1)
	go d.loop()

	d.log.Info("started checkpoint driver", "poll_interval", d.pollInterval)
	return nil
}

func (d *Driver) Stop() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.running {
		return errors.New("checkpoint driver is not running")
	}
	d.running = false

	d.cancel()
	close(d.done)
	d.wg.Wait()

	d.log.Info("stopped checkpoint driver")
	return nil
}

func (d *Driver) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hash, err := d.checkpoint.CheckpointIfNeeded(d.ctx, false)
			if err != nil {
				d.log.Warn("checkpoint evaluation failed", "error", err)
				continue
			}
			if hash != nil {
				d.log.Info("checkpoint submitted", "tx_hash", *hash)
			}
		case <-d.done:
			return
		}
	}
}
