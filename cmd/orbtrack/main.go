// Command orbtrack detects and matches features across a sequence of images.
//
//	orbtrack track --backend auto frame0.png frame1.png frame2.png
//
// The first image becomes the keyframe; every later image is matched
// against it, or against its predecessor with --chain.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
