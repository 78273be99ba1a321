// Package monitor follows stored contracts on chain: it notices when the
// funding transaction is seen and confirmed and when the funding output is
// spent by a CET or by the refund.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klingon-exchange/klingon-dlc/internal/backend"
	"github.com/klingon-exchange/klingon-dlc/internal/storage"
	"github.com/klingon-exchange/klingon-dlc/pkg/logging"
)

// watchedStates are the states whose contracts may still change on chain.
var watchedStates = []storage.ContractState{
	storage.ContractStateBuilt,
	storage.ContractStateSigning,
	storage.ContractStateFunded,
	storage.ContractStateConfirmed,
	storage.ContractStateSettled,
}

// Monitor polls the chain backend and advances stored contracts.
type Monitor struct {
	store    *storage.Storage
	chain    backend.Backend
	log      *logging.Logger
	notify   func(id string, state storage.ContractState)
	interval time.Duration
	minConfs int64
	batch    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration for the Monitor.
type Config struct {
	Store *storage.Storage
	Chain backend.Backend

	// Interval between polls, default 60s.
	Interval time.Duration

	// MinConfirmations before a funded contract counts as confirmed,
	// default 1.
	MinConfirmations int64

	// BatchSize is the number of contracts loaded per query, default 100.
	BatchSize int

	// Notify is called after a contract changed state. Optional.
	Notify func(id string, state storage.ContractState)
}

// New creates a contract monitor.
func New(cfg *Config) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		store:    cfg.Store,
		chain:    cfg.Chain,
		log:      logging.GetDefault().Component("monitor"),
		notify:   cfg.Notify,
		interval: cfg.Interval,
		minConfs: cfg.MinConfirmations,
		batch:    cfg.BatchSize,
		ctx:      ctx,
		cancel:   cancel,
	}
	if m.interval <= 0 {
		m.interval = 60 * time.Second
	}
	if m.minConfs <= 0 {
		m.minConfs = 1
	}
	if m.batch <= 0 {
		m.batch = 100
	}
	return m
}

// Start starts the polling loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	m.log.Info("Contract monitor started", "interval", m.interval, "min_confirmations", m.minConfs)
}

// Stop stops the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("Contract monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.CheckNow(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Warn("Contract check failed", "error", err)
			}
		}
	}
}

// CheckNow checks every watched contract once. Errors for single contracts
// are logged and do not stop the pass.
func (m *Monitor) CheckNow(ctx context.Context) error {
	for _, state := range watchedStates {
		after := ""
		for {
			contracts, err := m.store.ListContractsAfter(state, after, m.batch)
			if err != nil {
				return err
			}
			for _, c := range contracts {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := m.checkContract(ctx, c); err != nil {
					m.log.Contract(c.ID).Debug("Error checking contract", "state", c.State, "error", err)
				}
			}
			if len(contracts) < m.batch {
				break
			}
			after = contracts[len(contracts)-1].ID
		}
	}
	return nil
}

// checkContract advances one contract as far as the chain allows.
func (m *Monitor) checkContract(ctx context.Context, c *storage.Contract) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	state := c.State
	log := m.log.Contract(c.ID)

	if state == storage.ContractStateBuilt || state == storage.ContractStateSigning || state == storage.ContractStateFunded {
		status, err := m.chain.GetTxStatus(ctx, c.ID)
		if errors.Is(err, backend.ErrTxNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if state != storage.ContractStateFunded {
			if _, err := m.store.MarkBroadcast(c.ID); err != nil {
				return err
			}
			state = m.changed(c, storage.ContractStateFunded)
		}
		if status.Confirmations < m.minConfs {
			return nil
		}
		if err := m.store.UpdateContractState(c.ID, storage.ContractStateConfirmed); err != nil {
			return err
		}
		state = m.changed(c, storage.ContractStateConfirmed)
		log.Info("Funding confirmed", "confirmations", status.Confirmations)
	}

	// A settled contract may never have been seen funded by this node, so
	// its funding output is checked as well.
	out, err := m.chain.GetOutspend(ctx, c.ID, uint32(c.FundVout))
	if errors.Is(err, backend.ErrTxNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !out.Spent {
		return nil
	}

	updated, err := m.store.MarkBroadcast(out.TxID)
	if err != nil {
		return err
	}
	if !updated {
		log.Warn("Funding output spent by an unknown transaction", "spender", out.TxID)
		return nil
	}

	final := storage.ContractStateClosed
	if out.TxID == c.RefundTxID {
		final = storage.ContractStateRefunded
	}
	m.changed(c, final)
	log.Info("Contract closed on chain", "state", final, "spender", out.TxID, "from", state)
	return nil
}

// changed reports a state change and returns the new state.
func (m *Monitor) changed(c *storage.Contract, state storage.ContractState) storage.ContractState {
	if m.notify != nil {
		m.notify(c.ID, state)
	}
	return state
}
