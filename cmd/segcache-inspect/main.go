// main.go implements the segcache inspector CLI: it fetches the JSON
// diagnostics snapshot from a target process's
// /debug/segcache/snapshot endpoint and prints it either as pretty text or
// JSON, optionally polling on an interval. Adapted from the teacher's
// cmd/arena-cache-inspect; that file referenced a parseFlags/options pair it
// never defined, so the flag parsing here is original to this CLI rather
// than copied.
//
// © 2025 segcache authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type options struct {
	target   string
	watch    bool
	interval time.Duration
	jsonOut  bool
	version  bool
}

var appVersion = "dev"

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the process exposing /debug/segcache/snapshot")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly instead of a single fetch")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval, used with -watch")
	flag.BoolVar(&opts.jsonOut, "json", false, "print the raw JSON snapshot instead of a formatted summary")
	flag.BoolVar(&opts.version, "version", false, "print the CLI version and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(appVersion)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.watch {
		t := time.NewTicker(opts.interval)
		defer t.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-t.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/segcache/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Size:             %v\n", data["Size"])
	fmt.Printf("SlotCount:        %v\n", data["SlotCount"])
	fmt.Printf("TombstoneCount:   %v\n", data["TombstoneCount"])
	fmt.Printf("SubMapDepth:      %v\n", data["SubMapDepth"])
	fmt.Printf("Shared:           %v\n", data["Shared"])
	fmt.Printf("AvgProbeDist(%%):  %.4f\n", toFloat(data["AvgProbeDistancePct"]))
	fmt.Printf("MaxProbeDist:     %v\n", data["MaxProbeDistance"])
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "segcache-inspect:", err)
	os.Exit(1)
}
