// Package session is the Remote Session: an authenticated SSH connection to
// one target device that executes command strings and returns raw bytes.
//
// Two execution modes are supported. Exec mode opens one channel per command
// and reports stdout, stderr and exit status separately. Shell mode keeps a
// single PTY shell alive and delimits each command with a nonce end-marker;
// output is combined. Either mode can retrieve files over SFTP.
//
// A session is not safe for concurrent commands; calls are serialized.
package session
