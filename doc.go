// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bones is a client for the bones-rpc protocol: asynchronous,
// adapter-encoded RPC over a persistent byte stream (TCP, TLS or a unix
// socket).
//
// # Wire format
//
// Requests, responses and notifications are encoded by the session's
// adapter as arrays:
//
//	[0, id, method, params]   request
//	[1, id, error, result]    response
//	[2, method, params]       notify
//
// Connection synchronization uses ext frames (introducer 0xC7, 0xC8 or 0xC9
// with a 1, 2 or 4 byte length, then type 0x0D and a head byte). Head 0 is
// a Synchronize carrying a 4-byte id and the adapter name, head 1 an
// Acknowledge carrying the id and a boolean byte (0xC2 false, 0xC3 true).
// Other heads are routed to the adapter registered for them.
//
// # Adapters
//
// MsgpackAdapter (the default) and JSONAdapter ship with the package.
// Additional adapters are registered on the Config's AdapterRegistry before
// any node is built:
//
//	cfg := bones.DefaultConfig()
//	cfg.Adapters.Register(myAdapter)
//	cfg.Adapters.RegisterExtHead(myAdapter, 7)
//
// # Usage
//
//	session, err := bones.Dial(ctx, []string{"10.0.0.1:7000", "10.0.0.2:7000"},
//	    bones.WithAdapter(bones.AdapterJSON),
//	    bones.WithTimeout(2*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	var sum int
//	err = session.Call(ctx, "add", []interface{}{1, 2}, &sum)
//
//	// Or hold the future yourself
//	f, err := session.Request(ctx, "add", 1, 2)
//	msg, err := f.Value(ctx)
//
// A connection string selects hosts and options in one value:
//
//	session, err := bones.DialURI(ctx, "bones://h1:7000,h2:7000/?adapter=json&timeout=2&ssl=true")
//
// # Failure handling
//
// Every classified failure is an *Error with an ErrorKind. A connection
// failure during an operation drops the connection and retries once; a
// second failure marks the node down for the cluster's down interval. Other
// errors drop the connection and are returned with Socket set. An error
// carried in a Response is returned by Session.Call as *RemoteError and
// leaves the connection alone.
//
// # Architecture
//
//   - buffer.go, ext.go, parser.go: transactional stream parsing
//   - message.go: protocol message model and encoding
//   - adapter.go, codec.go, codec_msgpack.go: adapter registry and adapters
//   - future.go, registry.go: pending call correlation
//   - connection.go, node.go, pool.go, failover.go: one node and its socket
//   - cluster.go, readpref.go, session.go, dial.go, uri.go: the cluster view
//   - metrics.go, instrument.go, logger.go, admin.go: observability
//   - jsonrpc.go: calls to nodes fronted by a JSON-RPC 2.0 HTTP gateway
package bones
