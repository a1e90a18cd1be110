// Package realtime implements Vision's live connection layer.
//
// The Registry is the process-wide table of open websocket connections and
// the session identity bound to each. It is created empty at process start,
// torn down with the process, and guarded by a single mutex; nothing about
// it is persisted. The WSGateway upgrades HTTP requests, authenticates
// inbound messages against the session service, and keeps the Registry
// consistent across connection lifecycles, including abnormal ones.
package realtime
