// Package wire decodes the JSON-RPC notifications emitted by the agent
// runtime into a closed set of typed events.
//
// Each inbound event carries a kind and a payload of the form
// {"method": kind, "params": {...}}. Decode inspects the kind once and
// produces one variant of the sealed Event interface; everything downstream
// (turn id resolution, terminal status, message/approval/reasoning
// projections, replay snapshots) switches on the variant instead of
// re-parsing JSON.
//
// A payload that does not parse, or whose method disagrees with the declared
// kind, decodes to Malformed and yields no projections.
package wire
