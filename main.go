// Command ljspush turns an LJSpeech-style corpus into a Hugging Face style
// audio dataset and publishes it to a dataset registry.
//
// Usage:
//
//	ljspush push --root-dir ./LJSpeech-1.1 --repo org/ljspeech
//	ljspush inspect --root-dir ./LJSpeech-1.1
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
