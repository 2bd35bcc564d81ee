// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The sg library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the sg library. If not, see <http://www.gnu.org/licenses/>.

// Command sgd is a minimal front end over the evolutionary function
// runtime core: urfave/cli/v2 flags, a Config/Validate pair, and
// structured logging set up before anything else runs. Its only job is
// to give the wired-up engine.Engine a concrete, drivable home; a real
// deployment fronts the engine with its own CLI or dashboard.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/EsteSystems/sg/contract"
	"github.com/EsteSystems/sg/digest"
	"github.com/EsteSystems/sg/engine"
	"github.com/EsteSystems/sg/registry"
	"github.com/EsteSystems/sg/safety"
	"github.com/EsteSystems/sg/sandbox"
)

var (
	rootFlag = &cli.StringFlag{
		Name:     "root",
		Usage:    "Project root holding .sg/registry, phenotype.toml, fusion_tracker.json",
		Required: true,
	}
	manifestFlag = &cli.StringFlag{
		Name:  "manifest",
		Usage: "Path to a JSON contract manifest to register before running",
	}
	locusFlag = &cli.StringFlag{
		Name:     "locus",
		Usage:    "Locus name",
		Required: true,
	}
	sourceFlag = &cli.StringFlag{
		Name:     "source",
		Usage:    "Path to the allele source file to seed",
		Required: true,
	}
	riskFlag = &cli.StringFlag{
		Name:  "risk",
		Usage: "Locus risk class (none, low, medium, high, critical)",
		Value: string(safety.RiskNone),
	}
	inputFlag = &cli.StringFlag{
		Name:  "input",
		Usage: "JSON-encoded input object",
		Value: "{}",
	}
	pathwayFlag = &cli.StringFlag{
		Name:     "pathway",
		Usage:    "Pathway name",
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:  "sgd",
		Usage: "evolutionary function runtime core: seed alleles and drive genes/pathways",
		Commands: []*cli.Command{
			seedCommand,
			runGeneCommand,
			runPathwayCommand,
			statusCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the daemon's exit-code contract: 2 for an
// invocation or validation failure, 3 for an integrity failure, 1 for
// anything else.
func exitCode(err error) int {
	var exhausted *engine.ErrLocusExhausted
	var mismatch *contract.SchemaMismatchError
	if errors.As(err, &exhausted) || errors.As(err, &mismatch) {
		return 2
	}
	if _, ok := sandbox.KindOf(err); ok {
		return 2
	}
	if errors.Is(err, registry.ErrNotFound) {
		return 3
	}
	return 1
}

var seedCommand = &cli.Command{
	Name:  "seed",
	Usage: "store a source file as a locus's sole seed allele, dominant from birth",
	Flags: []cli.Flag{rootFlag, locusFlag, sourceFlag, riskFlag, manifestFlag},
	Action: func(ctx *cli.Context) error {
		setupLogging()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		locus := ctx.String(locusFlag.Name)
		source, err := os.ReadFile(ctx.String(sourceFlag.Name))
		if err != nil {
			return fmt.Errorf("sgd: reading source: %w", err)
		}

		d, err := e.Registry.Put(string(source), locus, nil, registry.MutationContext{})
		if err != nil {
			return fmt.Errorf("sgd: storing allele: %w", err)
		}
		if err := e.Registry.SetState(d, registry.StateDominant); err != nil {
			return fmt.Errorf("sgd: setting state: %w", err)
		}
		if err := e.Phenotype.Seed(locus, d); err != nil {
			return fmt.Errorf("sgd: seeding phenotype: %w", err)
		}
		e.Contracts.Register(&contract.Contract{
			Name: locus,
			Kind: contract.KindGene,
			Risk: safety.RiskClass(ctx.String(riskFlag.Name)),
		}, "")

		log.Info("seeded locus", "locus", locus, "digest", digest.Hex(d), "risk", ctx.String(riskFlag.Name))
		return nil
	},
}

var runGeneCommand = &cli.Command{
	Name:  "run-gene",
	Usage: "invoke a single gene-kind locus, following fallback on failure",
	Flags: []cli.Flag{rootFlag, locusFlag, inputFlag, manifestFlag},
	Action: func(ctx *cli.Context) error {
		setupLogging()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		input, err := decodeInput(ctx.String(inputFlag.Name))
		if err != nil {
			return err
		}

		output, err := e.InvokeGene(ctx.String(locusFlag.Name), input)
		if err != nil {
			return fmt.Errorf("sgd: gene invocation failed: %w", err)
		}
		return printJSON(output)
	},
}

var runPathwayCommand = &cli.Command{
	Name:  "run-pathway",
	Usage: "run a pathway-kind contract end to end",
	Flags: []cli.Flag{rootFlag, pathwayFlag, inputFlag, manifestFlag},
	Action: func(ctx *cli.Context) error {
		setupLogging()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		input, err := decodeInput(ctx.String(inputFlag.Name))
		if err != nil {
			return err
		}

		result, err := e.Run(ctx.Context, ctx.String(pathwayFlag.Name), input)
		if err != nil {
			return fmt.Errorf("sgd: pathway run failed: %w", err)
		}
		return printJSON(result)
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "print every locus currently carrying a phenotype entry",
	Flags: []cli.Flag{rootFlag},
	Action: func(ctx *cli.Context) error {
		setupLogging()
		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		for _, locus := range e.Phenotype.Loci() {
			dominant, fallback, err := e.Phenotype.ResolveWithStack(locus)
			if err != nil {
				continue
			}
			fmt.Printf("%s\tdominant=%s\tfallback=%d\n", locus, digest.Hex(dominant), len(fallback))
		}
		return nil
	},
}

func setupLogging() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))
}

func openEngine(ctx *cli.Context) (*engine.Engine, error) {
	cfg := Config{
		Root:         ctx.String(rootFlag.Name),
		ManifestPath: ctx.String(manifestFlag.Name),
		Engine:       engine.Config{Root: ctx.String(rootFlag.Name)},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e, err := engine.Open(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("sgd: opening engine: %w", err)
	}
	if cfg.ManifestPath != "" {
		if err := loadManifest(cfg.ManifestPath, e.Contracts); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func decodeInput(raw string) (map[string]interface{}, error) {
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("sgd: parsing --input: %w", err)
	}
	return input, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("sgd: encoding output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
