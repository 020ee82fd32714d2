package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mohannadcse/DepsRAG/tasks"
)

const greeting = "Which package would you like to analyze? " +
	"Tell me its name, version and ecosystem (pypi, npm, go, maven, cargo, nuget)."

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the Assistant interactively",
	Long: `Start an interactive conversation. Describe a package first; once its
dependency graph is built, ask questions about it. Type "quit" to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	human := tasks.HumanFunc(func(ctx context.Context, prompt string) (string, error) {
		fmt.Printf("%s %s\n", assistantLabel("assistant>"), prompt)
		return readLine(ctx, in)
	})
	rt, err := start(cmd, human)
	if err != nil {
		return err
	}
	defer rt.close()

	fmt.Printf("%s %s\n", assistantLabel("assistant>"), greeting)
	for {
		line, err := readLine(rt.ctx, in)
		if err == io.EOF || rt.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}

		out, err := rt.session.Send(rt.ctx, line)
		if err != nil {
			if rt.ctx.Err() != nil {
				return nil
			}
			printError(err)
			continue
		}
		printOutcome(out)
	}
}

// readLine prompts for and reads one trimmed line. It returns io.EOF
// when stdin is exhausted.
func readLine(ctx context.Context, in *bufio.Scanner) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Print(userLabel("you> "))
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(in.Text()), nil
}
