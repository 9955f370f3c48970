package main

import (
	"flag"
	"log"

	"github.com/danmuck/protoring/internal/config"
)

const defaultPath = "ringctl.toml"

func main() {
	kind := flag.String("kind", "scan", "config kind: scan")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadScanConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (%d named fields)", *kind, *input, len(cfg.Fields))
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
