// Command framegen generates sample depth-frame fixture files for replay.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/depth-data/distance.report/internal/capture"
)

func main() {
	output := flag.String("o", "frames.jsonl", "output path")
	frames := flag.Int("n", 100, "number of frames")
	seed := flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	flag.Parse()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	src := capture.NewSimulatedSource(*seed)
	if err := src.Connect(); err != nil {
		log.Fatalf("failed to start simulated sensor: %v", err)
	}

	w := bufio.NewWriter(f)
	for i := 0; i < *frames; i++ {
		fr, err := src.Capture(context.Background())
		if err != nil {
			log.Fatalf("capture failed: %v", err)
		}
		if err := capture.WriteFixture(w, fr); err != nil {
			log.Fatalf("failed to write frame: %v", err)
		}
		if (i+1)%10 == 0 {
			log.Printf("%d/%d frames", i+1, *frames)
		}
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("failed to flush output: %v", err)
	}
	log.Printf("✓ Created: %s", *output)
}
