// Package orchestrator composes the frame reader/writer, JSON walker,
// detector fusion, and pseudonym store into the full request/response
// pipeline, and drives one connection's Starting → Running → Draining →
// Exited state machine around three stdio forwarder goroutines.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"mcpconceal/internal/config"
	"mcpconceal/internal/detect"
	"mcpconceal/internal/faker"
	"mcpconceal/internal/logger"
	"mcpconceal/internal/metrics"
	"mcpconceal/internal/store"
	"mcpconceal/internal/supervisor"
)

// State is one stage of a connection's lifecycle.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Orchestrator wires one child process's stdio through the detection and
// pseudonymization pipeline in both directions.
type Orchestrator struct {
	cfg   *config.Config
	log   *logger.Logger
	m     *metrics.Metrics
	sup   *supervisor.Supervisor
	store *store.Store

	pattern       *detect.PatternDetector
	llm           *detect.LLMDetector
	threshold     float64
	maxFrameBytes int
	stderrOut     io.Writer

	// consistency mirrors cfg.Faker.Consistency. When false, the store is
	// bypassed entirely and every occurrence gets its own one-shot fake
	// from ephemeralFaker — debugging only, since fakes won't stay stable
	// across occurrences or reconnects.
	consistency    bool
	ephemeralFaker *faker.Generator

	state atomic.Int32
}

// New builds an Orchestrator from cfg, wiring a pattern detector (fatal on
// malformed configured regex) and, if enabled, an LLM detector backed by
// the store's LLM cache.
func New(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, sup *supervisor.Supervisor, st *store.Store) (*Orchestrator, error) {
	pattern, err := detect.NewPatternDetector(cfg.Detection.Patterns)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o := &Orchestrator{
		cfg:           cfg,
		log:           log,
		m:             m,
		sup:           sup,
		store:         st,
		pattern:       pattern,
		threshold:     cfg.Detection.ConfidenceThreshold,
		maxFrameBytes: 16 * 1024 * 1024,
		stderrOut:     os.Stderr,
		consistency:   cfg.Faker.Consistency,
	}
	if !o.consistency {
		o.ephemeralFaker = faker.New(cfg.Faker.Seed, cfg.Faker.Locale)
		o.log.Warnf("startup", "faker.consistency=false: pseudonyms will NOT be stable across occurrences (debugging only)")
	}

	if cfg.LLM.Enabled {
		timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
		o.llm = detect.NewLLMDetector(cfg.LLM.Endpoint, cfg.LLM.Model, timeout, 4, st.LLMCache(), m)
	}

	return o, nil
}

// SetStderr overrides where child stderr is forwarded to (default
// os.Stderr). Exposed for tests that want to capture it.
func (o *Orchestrator) SetStderr(w io.Writer) { o.stderrOut = w }

// State returns the connection's current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.log.Debugf("state", "transition to %s", s)
}

// Run spawns the configured child, full-duplex forwards clientIn/clientOut
// through it with PII detection and pseudonymization applied in both
// directions, and returns once the child has exited and both forwarders
// have drained. The returned exit code mirrors the child's, or
// supervisor.KilledSentinel if the supervisor had to force-kill it.
func (o *Orchestrator) Run(ctx context.Context, clientIn io.Reader, clientOut io.Writer) (int, error) {
	o.setState(StateStarting)
	if err := o.sup.Start(ctx); err != nil {
		return 2, fmt.Errorf("orchestrator: spawn child: %w", err)
	}
	o.setState(StateRunning)

	o.sup.StartStderrReader(func(b []byte) { o.writeStderr(b) })

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errCh <- o.forward(ctx, clientIn, o.sup.Stdin(), directionToChild)
	}()
	go func() {
		defer wg.Done()
		errCh <- o.forward(ctx, o.sup.Stdout(), clientOut, directionToClient)
	}()

	code, waitErr := o.sup.Wait()

	o.setState(StateDraining)
	wg.Wait()
	close(errCh)
	o.setState(StateExited)

	o.logSummary()

	for fwdErr := range errCh {
		if fwdErr != nil {
			return 3, fmt.Errorf("orchestrator: forwarder: %w", fwdErr)
		}
	}
	return code, waitErr
}

// writeStderr forwards child stderr to the client's stderr verbatim —
// operator telemetry, not protocol data, so it is never parsed or
// rewritten.
func (o *Orchestrator) writeStderr(b []byte) {
	if _, err := o.stderrOut.Write(b); err != nil {
		o.log.Warnf("stderr", "forward: %v", err)
	}
}

// logSummary emits the operator-facing telemetry summary: total mappings
// created, entity types processed, PII detected and anonymized.
func (o *Orchestrator) logSummary() {
	snap := o.m.Snapshot()
	o.log.Infof("summary", "mappingsCreated=%d piiDetected=%d piiAnonymized=%d entityTypes=%v framesClientToChild=%d framesChildToClient=%d framesMalformed=%d",
		snap.PIITokens.MappingsCreated, snap.PIITokens.Detected, snap.PIITokens.Anonymized,
		snap.PIITokens.EntityTypes, snap.Frames.ClientToChild, snap.Frames.ChildToClient, snap.Frames.Malformed)
}

// DumpMetrics logs a full metrics snapshot on demand (wired to SIGUSR1 by
// cmd/mcpconceal, since this proxy has no listening socket of its own to
// serve a /metrics endpoint from).
func (o *Orchestrator) DumpMetrics() {
	o.log.Infof("metrics", "%+v", o.m.Snapshot())
}
