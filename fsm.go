package spartan

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLog, when non-nil, receives one LogQuery call per completed FSM. It
// is off by default; EnableSyslog and the structured debug trace through
// Log cover most deployments, and AuditLog is wired in only when a config
// requests a separate audit trail (the [QueryLog] section).
var AuditLog *QueryLog

// probeCap is K, the maximum number of probes spawned for any one query.
const probeCap = 2

// globalTimeout bounds how long WaitForFirstReply waits for a winner.
const globalTimeout = 5 * time.Second

// eventKind distinguishes the two terminal outcomes a probe can report.
type eventKind int

const (
	eventReply eventKind = iota
	eventExited
)

// probeEvent is the single message type flowing through an FSM's mailbox.
// idx identifies which spawned probe instance the event belongs to, not
// just which endpoint -- duplicate endpoints in the selected set are
// distinct probe instances and must be accounted for independently (§8,
// "sampling with replacement").
type probeEvent struct {
	idx     int
	ep      UpstreamEndpoint
	kind    eventKind
	payload []byte
}

// fsm is the per-query handler state machine described in §4.1. It is
// started with StartFSM and runs to completion autonomously; the caller is
// notified exclusively through query.Reply.Deliver.
type fsm struct {
	query   *Query
	router  *Router
	metrics MetricsSink
	codec   WireCodec
	qname   string

	ctx    context.Context
	cancel context.CancelFunc
}

// logAudit forwards one completed query to AuditLog, if one is configured.
func (f *fsm) logAudit(outcome, winner string, latency time.Duration) {
	if AuditLog == nil {
		return
	}
	AuditLog.LogQuery(f.query.ID, f.query.Client, f.qname, outcome, winner, latency)
}

// StartFSM starts a new per-query FSM. It is fire-and-forget: the caller
// has no further synchronous operations available.
func StartFSM(q *Query, router *Router, metrics MetricsSink, codec WireCodec) {
	f := &fsm{query: q, router: router, metrics: metrics, codec: codec}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	go f.run()
}

func (f *fsm) run() {
	defer f.cancel()

	log := queryLogger(f.query.ID, "", f.query.Reply.Protocol())
	log.Debug("execute")

	msg, err := f.query.Decode(f.codec)
	if err != nil {
		log.WithError(err).Debug("dropping undecodable query")
		return
	}
	f.qname = qName(msg)
	log = queryLogger(f.query.ID, f.qname, f.query.Reply.Protocol())

	upstreams, ignored := f.router.UpstreamsFromQuestions(msg.Question)
	if ignored > 0 {
		f.metrics.AddIgnoredQuestions(ignored)
	}
	if len(upstreams) == 0 {
		f.metrics.IncNoUpstreamsAvailable()
		reply, err := servfail(f.codec, msg)
		if err != nil {
			log.WithError(err).Error("failed to encode servfail")
			return
		}
		_ = f.query.Reply.Deliver(reply)
		log.Debug("no upstreams available, sent servfail")
		f.logAudit(OutcomeServfail, "", 0)
		return
	}

	selected := takeUpstreams(upstreams)
	live := make(map[int]UpstreamEndpoint, len(selected))
	events := make(chan probeEvent, len(selected))

	var wg sync.WaitGroup
	sendTime := time.Now()
	for idx, ep := range selected {
		live[idx] = ep
		wg.Add(1)
		go func(idx int, ep UpstreamEndpoint) {
			defer wg.Done()
			f.runProbe(idx, ep, events)
		}(idx, ep)
	}
	defer func() {
		// Cancel before joining: this is what lets watchCancel (probe.go)
		// close a lingering loser's socket immediately instead of wg.Wait
		// blocking until the probe's own 5s probeTimeout fires.
		f.cancel()
		wg.Wait()
	}()

	log.WithField("upstreams", len(selected)).Debug("spawned probes, waiting for first reply")

	drainTimeout, ok := f.waitForFirstReply(log, live, events, sendTime)
	if !ok {
		return
	}
	f.drainLosers(log, live, events, sendTime, drainTimeout)
}

// waitForFirstReply implements the WaitForFirstReply state. It returns
// ok=false once the FSM has terminated without delivering anything (either
// the global timeout fired or every probe failed). On success it returns
// the drain-timeout budget for the losers: the wall-clock time the winner
// took to reply, which is reused as the ceiling for how long losers are
// allowed to finish.
func (f *fsm) waitForFirstReply(log *logrus.Entry, live map[int]UpstreamEndpoint, events chan probeEvent, sendTime time.Time) (drainTimeout time.Duration, ok bool) {
	timeout := time.NewTimer(globalTimeout)
	defer timeout.Stop()

	for len(live) > 0 {
		select {
		case ev := <-events:
			ep, tracked := live[ev.idx]
			if !tracked {
				continue
			}
			if ev.kind != eventReply {
				f.metrics.IncUpstreamFailure(ep)
				delete(live, ev.idx)
				continue
			}
			reply, err := f.codec.Decode(ev.payload)
			if err != nil || reply == nil {
				// Upstream reply undecodable: treated as probe failure,
				// the FSM continues waiting for another winner (§7.4).
				f.metrics.IncUpstreamFailure(ep)
				delete(live, ev.idx)
				continue
			}
			elapsed := time.Since(sendTime)
			f.metrics.IncUpstreamSuccess(ep, microseconds(elapsed))
			delete(live, ev.idx)
			_ = f.query.Reply.Deliver(ev.payload)
			log.WithField("winner", ep.String()).Debug("delivered winning reply, draining losers")
			if elapsed < 0 {
				elapsed = 0
			}
			f.logAudit(OutcomeDelivered, ep.String(), elapsed)
			return elapsed, true
		case <-timeout.C:
			for idx, ep := range live {
				f.metrics.IncUpstreamFailure(ep)
				delete(live, idx)
			}
			f.metrics.IncUpstreamsFailed()
			log.Debug("global timeout elapsed, no reply delivered")
			f.logAudit(OutcomeTimedOut, "", globalTimeout)
			return 0, false
		}
	}
	f.metrics.IncUpstreamsFailed()
	log.Debug("all upstreams failed, no reply delivered")
	f.logAudit(OutcomeTimedOut, "", time.Since(sendTime))
	return 0, false
}

// drainLosers implements the DrainLosers state: remaining probes are given
// drainTimeout, counted from the moment this state is entered, to finish
// for accounting purposes; their replies, if any, are discarded. Their
// latency is still measured from sendTime.
func (f *fsm) drainLosers(log *logrus.Entry, live map[int]UpstreamEndpoint, events chan probeEvent, sendTime time.Time, drainTimeout time.Duration) {
	drain := time.NewTimer(drainTimeout)
	defer drain.Stop()

	for len(live) > 0 {
		select {
		case ev := <-events:
			ep, tracked := live[ev.idx]
			if !tracked {
				continue
			}
			switch ev.kind {
			case eventReply:
				f.metrics.IncUpstreamSuccess(ep, microseconds(time.Since(sendTime)))
			case eventExited:
				f.metrics.IncUpstreamFailure(ep)
			}
			delete(live, ev.idx)
		case <-drain.C:
			for idx, ep := range live {
				f.metrics.IncUpstreamFailure(ep)
				delete(live, idx)
			}
		}
	}
	log.Debug("drain complete")
}

func (f *fsm) runProbe(idx int, ep UpstreamEndpoint, events chan<- probeEvent) {
	if f.query.Reply.Protocol() == "tcp" {
		tcpProbe(f.ctx, idx, ep, f.query.Raw, events)
		return
	}
	udpProbe(f.ctx, idx, ep, f.query.Raw, events)
}

// takeUpstreams implements the probe selection policy: use the whole pool
// if it has 2 or fewer entries, otherwise sample probeCap entries with
// replacement. Duplicates in the source pool are a deliberate sampling
// weight and are never deduplicated first.
func takeUpstreams(pool []UpstreamEndpoint) []UpstreamEndpoint {
	if len(pool) <= probeCap {
		return pool
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	selected := make([]UpstreamEndpoint, probeCap)
	for i := range selected {
		selected[i] = pool[rng.Intn(len(pool))]
	}
	return selected
}

func microseconds(d time.Duration) float64 {
	return float64(d.Microseconds())
}
