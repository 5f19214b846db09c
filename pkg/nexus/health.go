package nexus

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/nexd-io/nexd/pkg/events"
	"github.com/nexd-io/nexd/pkg/log"
	"github.com/nexd-io/nexd/pkg/metrics"
	"github.com/nexd-io/nexd/pkg/replica"
	"github.com/nexd-io/nexd/pkg/types"
)

// healthMonitor evaluates per-operation outcomes and emits the resulting
// state transitions as events and metrics. It never mutates state itself;
// transitions happen under the owning nexus's lock and are reported here.
type healthMonitor struct {
	nexus  string
	broker *events.Broker
	logger zerolog.Logger
}

func newHealthMonitor(nexusName string, broker *events.Broker) *healthMonitor {
	return &healthMonitor{
		nexus:  nexusName,
		broker: broker,
		logger: log.WithComponent("health").With().Str("nexus", nexusName).Logger(),
	}
}

// transient reports whether an I/O error leaves the channel worth keeping
// open. A gone channel (device removed, backing store destroyed) is not
// transient; everything else is.
func transient(err error) bool {
	return !errors.Is(err, replica.ErrChannelGone)
}

func (h *healthMonitor) publish(eventType events.EventType, child string, state types.NexusState, msg string) {
	if h.broker == nil {
		return
	}
	h.broker.Publish(&events.Event{
		Type:    eventType,
		Nexus:   h.nexus,
		Child:   child,
		Message: msg,
		Metadata: map[string]string{
			"nexus_state": string(state),
		},
	})
}

func (h *healthMonitor) childDegraded(child string, err error, state types.NexusState) {
	h.logger.Warn().Err(err).Str("child", child).Str("nexus_state", string(state)).Msg("child degraded")
	metrics.ChildDemotions.Inc()
	h.publish(events.EventChildDegraded, child, state, "child degraded after I/O failure")
}

func (h *healthMonitor) childFaulted(child string, err error, state types.NexusState) {
	h.logger.Error().Err(err).Str("child", child).Str("nexus_state", string(state)).Msg("child faulted")
	metrics.ChildFaults.Inc()
	h.publish(events.EventChildFaulted, child, state, "child faulted")
}

func (h *healthMonitor) childAdded(child string, state types.NexusState) {
	h.logger.Info().Str("child", child).Msg("child added")
	h.publish(events.EventChildAdded, child, state, "child added, pending rebuild")
}

func (h *healthMonitor) childRemoved(child string, state types.NexusState) {
	h.logger.Info().Str("child", child).Msg("child removed")
	h.publish(events.EventChildRemoved, child, state, "child removed")
}

func (h *healthMonitor) childOnline(child string, state types.NexusState) {
	h.logger.Info().Str("child", child).Msg("child brought online, pending rebuild")
	h.publish(events.EventChildOnline, child, state, "child online, pending rebuild")
}

func (h *healthMonitor) childOffline(child string, state types.NexusState) {
	h.logger.Info().Str("child", child).Msg("child taken offline")
	h.publish(events.EventChildOffline, child, state, "child offline")
}

func (h *healthMonitor) childSynced(child string, state types.NexusState) {
	h.logger.Info().Str("child", child).Msg("child rebuilt and promoted")
	h.publish(events.EventChildOnline, child, state, "child promoted after rebuild")
}

func (h *healthMonitor) published(path string) {
	h.logger.Info().Str("device", path).Msg("nexus published")
	h.publish(events.EventNexusPublished, "", "", "nexus published at "+path)
}

func (h *healthMonitor) unpublished() {
	h.logger.Info().Msg("nexus unpublished")
	h.publish(events.EventNexusUnpublished, "", "", "nexus unpublished")
}
