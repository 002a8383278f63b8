// Package ipc carries the daemon protocol between encodetalkerd and its
// clients.
//
// Every message is a length-prefixed frame whose body is a self-contained gob
// stream of a tagged Message: a request, the response correlated to it by id,
// or a pushed event. The transport is a Unix domain socket on POSIX systems
// and a named pipe on Windows; both sit behind the Listener and Conn
// interfaces so the server and client never see the difference.
//
// A malformed frame or message is fatal to its connection only. The server
// keeps accepting and every other client is unaffected.
package ipc
