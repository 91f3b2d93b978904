// Package agent implements the notification delivery agent: it turns inbound
// push messages into displayable notification records and routes notification
// clicks back to an open client window (or opens a new one).
//
// The agent is event-driven and single-threaded: install, activate, push and
// click events go through one queue and are handled one at a time, in order.
// Each handler's asynchronous work is awaited before the event is considered
// done, mirroring the extend-lifetime ("wait until") pattern of the hosting
// platforms this agent models.
//
// Host facilities (notification surface, client windows, lifecycle) are
// injected as interfaces so tests can substitute fakes.
package agent
