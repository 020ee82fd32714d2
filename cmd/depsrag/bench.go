package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Mohannadcse/DepsRAG/errors"
	"github.com/Mohannadcse/DepsRAG/report"
)

var (
	questionsPath string
	iterations    int
)

// benchFile lists the questions to run against one package.
type benchFile struct {
	Package struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Type    string `yaml:"type"`
	} `yaml:"package"`
	Questions []string `yaml:"questions"`
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a question set repeatedly and summarize the iteration reports",
	Long: `Build the graph of the package named in the questions file, then ask every
question --iterations times. Each run is recorded in the configured report
sink; a summary is printed at the end.

Questions file:

  package:
    name: chainlit
    version: 1.1.200
    type: pypi
  questions:
    - What is the depth of the dependency graph?
    - Which packages depend on httpx?`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVarP(&questionsPath, "questions", "q", "", "YAML questions file")
	benchCmd.Flags().IntVarP(&iterations, "iterations", "n", 1, "runs per question")
	benchCmd.MarkFlagRequired("questions")
}

func loadBench(path string) (*benchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "reading questions file")
	}
	var b benchFile
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfigInvalid, "parsing questions file")
	}
	if b.Package.Name == "" || b.Package.Version == "" {
		return nil, errors.InvalidInput("questions file needs package.name and package.version")
	}
	if b.Package.Type == "" {
		b.Package.Type = "pypi"
	}
	if len(b.Questions) == 0 {
		return nil, errors.InvalidInput("questions file has no questions")
	}
	return &b, nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	if iterations < 1 {
		return errors.InvalidInput("--iterations must be at least 1")
	}
	bench, err := loadBench(questionsPath)
	if err != nil {
		return err
	}
	rt, err := start(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	p := bench.Package
	if _, err := rt.session.Construct(rt.ctx, p.Name, p.Version, p.Type); err != nil {
		return err
	}

	for i := 1; i <= iterations; i++ {
		for qi, q := range bench.Questions {
			fmt.Printf("%s [%d/%d] run %d: %s\n", color.CyanString("»"), qi+1, len(bench.Questions), i, q)
			out, err := rt.session.Ask(rt.ctx, q)
			if err != nil {
				if rt.ctx.Err() != nil {
					return err
				}
				printError(err)
				continue
			}
			printOutcome(out)
		}
	}

	its, err := rt.reports.List(rt.ctx, report.Filter{SessionID: rt.session.ID()})
	if err != nil {
		return err
	}
	fmt.Println()
	color.New(color.Bold).Println(report.Summarize(its).String())
	return nil
}
