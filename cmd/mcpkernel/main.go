// Command mcpkernel runs and drives the session kernel: "serve" hosts a
// server-role peer with the kernel's demo tool/resource/prompt providers,
// "dial" connects to one as a client, and "policy" manages the on-disk
// policy file the serve command enforces.
package main

func main() {
	Execute()
}
