// Command depsrag answers questions about the dependency graph of a
// software package by letting a team of LLM agents query the graph, search
// the web, and review each other's answers.
package main

func main() {
	Execute()
}
