// Command trellis hosts the Trellis RPC surface over stdin/stdout
// line-delimited JSON for manual invocation and integration testing. The
// wire framing here is a demonstration harness only; it is not part of
// the specification.
package main

func main() {
	Execute()
}
