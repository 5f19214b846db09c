package nexus

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexd-io/nexd/pkg/errdefs"
	"github.com/nexd-io/nexd/pkg/metrics"
	"github.com/nexd-io/nexd/pkg/replica"
	"github.com/nexd-io/nexd/pkg/types"
)

// target is a stable view of one child taken while holding the read lock.
// The channel reference stays valid for the duration of the sub-operation
// because the in-flight count was raised before the lock was released;
// whoever closes the channel waits for it to drop.
type target struct {
	child   *Child
	channel replica.Channel
}

// snapshotWritable returns all children eligible for writes (online or
// degraded), with their in-flight counts raised.
func (n *Nexus) snapshotWritable() []target {
	n.mu.RLock()
	defer n.mu.RUnlock()

	targets := make([]target, 0, len(n.children))
	for _, c := range n.children {
		if c.state.Usable() && c.channel != nil {
			c.inflight.Add(1)
			targets = append(targets, target{child: c, channel: c.channel})
		}
	}
	return targets
}

// snapshotReadable returns the read candidates in children order: online
// children, or the degraded ones only when no online child exists. In-flight
// counts are raised for every candidate; release returns the unused ones.
func (n *Nexus) snapshotReadable() []target {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var online, degraded []target
	for _, c := range n.children {
		if c.channel == nil {
			continue
		}
		switch c.state {
		case types.ChildStateOnline:
			online = append(online, target{child: c, channel: c.channel})
		case types.ChildStateDegraded:
			degraded = append(degraded, target{child: c, channel: c.channel})
		}
	}

	candidates := online
	if len(candidates) == 0 {
		candidates = degraded
	}
	for _, t := range candidates {
		t.child.inflight.Add(1)
	}
	return candidates
}

func release(targets []target) {
	for _, t := range targets {
		t.child.inflight.Done()
	}
}

// checkBounds rejects I/O outside [0, size) before any child is touched.
func (n *Nexus) checkBounds(off int64, length int) error {
	if off < 0 || uint64(off)+uint64(length) > n.size {
		return fmt.Errorf("offset %d length %d outside device of %d bytes: %w",
			off, length, n.size, errdefs.ErrOutOfRange)
	}
	return nil
}

// childCtx bounds one sub-operation against one child.
func (n *Nexus) childCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.childTimeout > 0 {
		return context.WithTimeout(ctx, n.childTimeout)
	}
	return context.WithCancel(ctx)
}

// demoteOrFault applies the health verdict for a failed sub-operation:
// transient errors demote online children to degraded, non-transient errors
// (or forceFault) fault the child and close its channel. Children that
// already left the usable set are not touched.
func (n *Nexus) demoteOrFault(c *Child, err error, forceFault bool) {
	n.mu.Lock()
	if !c.state.Usable() {
		n.mu.Unlock()
		return
	}

	fault := forceFault || !transient(err)
	var ch replica.Channel
	if fault {
		c.state = types.ChildStateFaulted
		ch = c.detachLocked()
	} else {
		c.state = types.ChildStateDegraded
	}
	state := n.stateLocked()
	n.mu.Unlock()

	if fault {
		c.drain(ch)
		n.health.childFaulted(c.URI(), err, state)
	} else {
		n.health.childDegraded(c.URI(), err, state)
	}
}

// WriteAt fans the write out to every usable child and joins all
// sub-results. The write succeeds if at least one child accepted it; when
// every child fails, the failed children are faulted, the nexus ends up
// faulted and the call fails.
func (n *Nexus) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	timer := prometheus.NewTimer(metrics.IODuration.WithLabelValues("write"))
	defer timer.ObserveDuration()

	err := n.fanout(ctx, func(ctx context.Context, ch replica.Channel) error {
		_, err := ch.WriteAt(ctx, p, off)
		return err
	}, off, len(p))
	if err != nil {
		metrics.IOTotal.WithLabelValues("write", "error").Inc()
		return 0, err
	}
	metrics.IOTotal.WithLabelValues("write", "ok").Inc()
	return len(p), nil
}

// Flush fans out to every usable child with the same aggregation rule as
// WriteAt.
func (n *Nexus) Flush(ctx context.Context) error {
	timer := prometheus.NewTimer(metrics.IODuration.WithLabelValues("flush"))
	defer timer.ObserveDuration()

	err := n.fanout(ctx, func(ctx context.Context, ch replica.Channel) error {
		return ch.Flush(ctx)
	}, 0, 0)
	if err != nil {
		metrics.IOTotal.WithLabelValues("flush", "error").Inc()
		return err
	}
	metrics.IOTotal.WithLabelValues("flush", "ok").Inc()
	return nil
}

// fanout runs op against every usable child concurrently and joins all
// sub-results before returning.
func (n *Nexus) fanout(ctx context.Context, op func(context.Context, replica.Channel) error, off int64, length int) error {
	if err := n.checkBounds(off, length); err != nil {
		return err
	}

	targets := n.snapshotWritable()
	if len(targets) == 0 {
		return fmt.Errorf("nexus %s has no usable children: %w", n.name, errdefs.ErrFaulted)
	}

	errs := make([]error, len(targets))
	done := make(chan int, len(targets))
	for i, t := range targets {
		go func(i int, t target) {
			cctx, cancel := n.childCtx(ctx)
			defer cancel()
			defer t.child.inflight.Done()
			errs[i] = op(cctx, t.channel)
			done <- i
		}(i, t)
	}
	for range targets {
		<-done
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	allFailed := failed == len(targets)

	for i, err := range errs {
		if err != nil {
			// Every child failing means no replica holds the write; the
			// failed set is faulted so the nexus lands in faulted, not
			// degraded.
			n.demoteOrFault(targets[i].child, err, allFailed)
		}
	}

	if allFailed {
		return fmt.Errorf("all %d children failed: %w", len(targets), errdefs.ErrIoFailed)
	}
	return nil
}

// ReadAt serves the read from the first online child in children order,
// demoting and retrying on failure, bounded by the candidates eligible at
// call time. Degraded children are used only when no online child exists.
func (n *Nexus) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	timer := prometheus.NewTimer(metrics.IODuration.WithLabelValues("read"))
	defer timer.ObserveDuration()

	if err := n.checkBounds(off, len(p)); err != nil {
		metrics.IOTotal.WithLabelValues("read", "error").Inc()
		return 0, err
	}

	candidates := n.snapshotReadable()
	if len(candidates) == 0 {
		metrics.IOTotal.WithLabelValues("read", "error").Inc()
		return 0, fmt.Errorf("nexus %s has no usable children: %w", n.name, errdefs.ErrFaulted)
	}

	var lastErr error
	for i, t := range candidates {
		cctx, cancel := n.childCtx(ctx)
		nread, err := t.channel.ReadAt(cctx, p, off)
		cancel()
		t.child.inflight.Done()
		if err == nil {
			release(candidates[i+1:])
			if i > 0 {
				metrics.ReadRetries.Add(float64(i))
			}
			metrics.IOTotal.WithLabelValues("read", "ok").Inc()
			return nread, nil
		}
		lastErr = err
		// This candidate's in-flight count is already dropped, so a fault
		// here can close the channel without waiting on ourselves.
		n.demoteOrFault(t.child, err, false)
	}

	metrics.IOTotal.WithLabelValues("read", "error").Inc()
	return 0, fmt.Errorf("all %d read candidates failed (%v): %w", len(candidates), lastErr, errdefs.ErrIoFailed)
}
