// Package signals relays termination signals received by this process to a
// running child for exactly the lifetime of that child.
package signals

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Forwarded lists the signals relayed to a child by default.
var Forwarded = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	syscall.SIGHUP,
	syscall.SIGPIPE,
	syscall.SIGABRT,
}

// registry counts live registrations per signal so callers can verify that
// nothing outlives the child it was registered for.
var registry = struct {
	sync.Mutex
	counts map[os.Signal]int
}{counts: make(map[os.Signal]int)}

// Active returns the number of forwarders currently registered for sig.
func Active(sig os.Signal) int {
	registry.Lock()
	defer registry.Unlock()
	return registry.counts[sig]
}

func track(sigs []os.Signal, delta int) {
	registry.Lock()
	defer registry.Unlock()
	for _, s := range sigs {
		registry.counts[s] += delta
		if registry.counts[s] <= 0 {
			delete(registry.counts, s)
		}
	}
}

// Forwarder owns one set of signal registrations. Each invocation creates
// its own; several may be live at once and each relays to its own child.
type Forwarder struct {
	sigs   []os.Signal
	logger *slog.Logger

	ch     chan os.Signal
	attach chan *os.Process
	done   chan struct{}
	exited chan struct{}

	stopOnce sync.Once
	dropped  []os.Signal // written by run before exited closes
}

// Start registers for sigs and begins relaying. Signals that arrive before
// Attach are held and delivered once a process is attached.
func Start(sigs []os.Signal, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{
		sigs:   append([]os.Signal(nil), sigs...),
		logger: logger,
		ch:     make(chan os.Signal, len(sigs)+1),
		attach: make(chan *os.Process, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	signal.Notify(f.ch, f.sigs...)
	track(f.sigs, 1)
	go f.run()
	return f
}

// Attach sets the process that receives relayed signals. It is called once,
// right after the child has started.
func (f *Forwarder) Attach(p *os.Process) {
	select {
	case f.attach <- p:
	default:
	}
}

// Inject relays sig as if this process had received it.
func (f *Forwarder) Inject(sig os.Signal) {
	select {
	case f.ch <- sig:
	default:
		f.logger.Warn("dropping signal, relay queue full", "signal", sig.String())
	}
}

// Stop removes every registration in one step and waits for the relay
// goroutine to exit. It is safe to call more than once.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		signal.Stop(f.ch)
		track(f.sigs, -1)
		close(f.done)
		<-f.exited
	})
}

func (f *Forwarder) run() {
	defer close(f.exited)

	var (
		target  *os.Process
		pending []os.Signal
	)
	for {
		select {
		case <-f.done:
			pending = append(pending, f.drain()...)
			if target == nil {
				select {
				case target = <-f.attach:
				default:
				}
			}
			if target != nil {
				for _, sig := range pending {
					f.forward(target, sig)
				}
				return
			}
			for _, sig := range pending {
				f.logger.Warn("dropping signal, no child was started", "signal", sig.String())
			}
			f.dropped = pending
			return
		case p := <-f.attach:
			target = p
			for _, sig := range pending {
				f.forward(target, sig)
			}
			pending = nil
		case sig := <-f.ch:
			if target == nil {
				pending = append(pending, sig)
				continue
			}
			f.forward(target, sig)
		}
	}
}

// drain empties the relay queue without blocking.
func (f *Forwarder) drain() []os.Signal {
	var out []os.Signal
	for {
		select {
		case sig := <-f.ch:
			out = append(out, sig)
		default:
			return out
		}
	}
}

// Dropped returns the signals that arrived while no child was attached and
// were never relayed. It is valid after Stop returns.
func (f *Forwarder) Dropped() []os.Signal {
	return f.dropped
}

func (f *Forwarder) forward(p *os.Process, sig os.Signal) {
	f.logger.Info("forwarding signal to child", "signal", sig.String(), "pid", p.Pid)
	if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		f.logger.Warn("forwarding signal failed", "signal", sig.String(), "pid", p.Pid, "error", err)
	}
}
