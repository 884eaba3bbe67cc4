// Sweep - idle EC2 resource cleanup.
// Stopped instances, unattached volumes, old images and their snapshots.
package main

func main() {
	Execute()
}
