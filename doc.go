/*
Package spartan implements a recursive-aware DNS forwarder intended to run
alongside service-discovery infrastructure, where different name suffixes
must be answered by different resolver pools.

Core

The core of the package is the per-query handler state machine (FSM),
together with the upstream Router and the transport-agnostic reply path.
For every query received by a listener, an FSM is started; it consults the
Router to pick a set of upstream endpoints, races parallel Probes against
them, and delivers the first valid reply to the client via a ReplyHandle.

Router

The Router maps a question's name to an ordered list of UpstreamEndpoints,
drawn from one of three pools: a service-discovery pool, a shared
authoritative-zone pool, or the default public-resolver pool.

Probes

A Probe is a short-lived worker that performs one request/response exchange
with one upstream over UDP or TCP and reports the outcome back to its
parent FSM. Probes never retry and never propagate errors; every outcome
becomes either a reply, a recorded failure, or silence.

Listeners

Listeners are the receivers of client queries. There is one listener per
protocol (UDP, TCP) plus an admin listener that exposes metrics. Each
listener decodes its wire framing, starts an FSM per query, and hands the
FSM a ReplyHandle capturing how to deliver bytes back to that client.
*/
package spartan
