// Command dittodrive runs and operates the DittoDrive file lifecycle engine.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
