package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mohannadcse/DepsRAG/graph"
)

var packageSpec string

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Answer one question about a package",
	Example: `  depsrag ask --package chainlit@1.1.200 "What is the depth of the dependency graph?"
  depsrag ask -p express@4.19.2 -e npm "Does express depend on a vulnerable package?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := start(cmd, nil)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := constructFromFlags(rt); err != nil {
			return err
		}
		out, err := rt.session.Ask(rt.ctx, args[0])
		if err != nil {
			return err
		}
		printOutcome(out)
		return nil
	},
}

var constructCmd = &cobra.Command{
	Use:     "construct NAME@VERSION",
	Short:   "Build the dependency graph of a package",
	Example: "  depsrag construct chainlit@1.1.200 --ecosystem pypi",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		packageSpec = args[0]
		rt, err := start(cmd, nil)
		if err != nil {
			return err
		}
		defer rt.close()
		return constructFromFlags(rt)
	},
}

var visualizeCmd = &cobra.Command{
	Use:   "visualize NAME@VERSION",
	Short: "Build a package's graph and render it as an HTML page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		packageSpec = args[0]
		rt, err := start(cmd, nil)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := constructFromFlags(rt); err != nil {
			return err
		}
		uri, err := rt.session.Visualize(rt.ctx)
		if err != nil {
			return err
		}
		fmt.Println(uri)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&packageSpec, "package", "p", "", "package to analyze, as name@version")
	askCmd.MarkFlagRequired("package")
	for _, cmd := range []*cobra.Command{askCmd, constructCmd, visualizeCmd} {
		addEcosystemFlag(cmd)
	}
}

func constructFromFlags(rt *runtime) error {
	name, version, err := parsePackage(packageSpec)
	if err != nil {
		return err
	}
	res, err := rt.session.Construct(rt.ctx, name, version, ecosystem)
	if err != nil {
		return err
	}
	verb := "built"
	if res.Status == graph.StatusExists {
		verb = "already built"
	}
	fmt.Printf("%s %s@%s %s: %d packages, %d dependencies\n",
		color.GreenString("✓"), name, version, verb, res.Nodes, res.Edges)
	return nil
}
