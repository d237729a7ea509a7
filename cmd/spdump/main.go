// spdump - safepoint table inspector for compiled-code artifacts
//
// Dumps the safepoint table of artifact files or cached artifacts, and
// packs bundle manifests into a cache database.
//
// Build: go build ./cmd/spdump
// Usage:
//   spdump main.mca helper.mca              # dump artifact files
//   spdump -cache cache.db -list            # list cached artifacts
//   spdump -cache cache.db -name main       # dump a cached artifact
//   spdump -pack ./bundle                   # pack bundle.toml into its cache
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/stackmap/manifest"
	"github.com/chazu/stackmap/pkg/artifact"
	"github.com/chazu/stackmap/pkg/codecache"
)

var log = commonlog.GetLogger("spdump")

func main() {
	cachePath := flag.String("cache", "", "Cache database to read artifacts from")
	name := flag.String("name", "", "Artifact name to dump (with -cache)")
	list := flag.Bool("list", false, "List artifact names (with -cache)")
	pack := flag.String("pack", "", "Directory containing a bundle.toml to pack into its cache")
	verbosity := flag.Int("v", 0, "Log verbosity")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spdump [options] [artifact files...]\n\n")
		fmt.Fprintf(os.Stderr, "Prints the safepoint tables embedded in compiled-code artifacts.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	var err error
	switch {
	case *pack != "":
		err = packBundle(*pack)
	case *cachePath != "":
		err = dumpFromCache(*cachePath, *name, *list)
	case flag.NArg() > 0:
		err = dumpFiles(flag.Args())
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "spdump: %v\n", err)
		os.Exit(1)
	}
}

func dumpFiles(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		a, err := artifact.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		dumpArtifact(a)
	}
	return nil
}

func dumpFromCache(path, name string, list bool) error {
	cache, err := codecache.Open(path)
	if err != nil {
		return err
	}
	defer cache.Close()

	if list {
		names, err := cache.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	if name == "" {
		return fmt.Errorf("-cache requires -name or -list")
	}
	a, err := cache.Get(name)
	if err != nil {
		return err
	}
	dumpArtifact(a)
	return nil
}

func packBundle(dir string) error {
	m, err := manifest.Load(dir)
	if err != nil {
		return err
	}
	log.Infof("packing bundle %q into %s", m.Bundle.Name, m.CachePath())

	cache, err := codecache.Open(m.CachePath())
	if err != nil {
		return err
	}
	defer cache.Close()

	for _, path := range m.ArtifactPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		a, err := artifact.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := cache.Put(a); err != nil {
			return err
		}
		log.Infof("packed %q (%d code bytes)", a.Name, len(a.Code))
	}
	return nil
}

func dumpArtifact(a *artifact.Artifact) {
	fmt.Printf("%s  (code = %d bytes, hash = %x)\n", a.Name, len(a.Code), a.Hash[:8])
	fmt.Print(a.Table().Dump())
}
