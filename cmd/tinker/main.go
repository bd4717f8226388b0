// Package main provides the CLI entry point for Tinker, a terminal
// coding agent.
//
// Tinker drives a conversation loop against an LLM provider (Anthropic
// or OpenAI) with workspace tools: file read/write/edit, text search,
// command execution, git inspection, and web fetch.
//
// # Basic Usage
//
// Start an interactive session in the current directory:
//
//	tinker chat
//
// Resume a stored session:
//
//	tinker chat --session <id>
//
// # Environment Variables
//
//   - TINKER_CONFIG: Path to configuration file (default: tinker.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tinker",
		Short: "Tinker - terminal coding agent",
		Long: `Tinker runs a conversation loop against an LLM provider with
workspace tool execution: read, write, edit, search, run commands,
inspect git, and fetch web pages.

Supported providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"Path to configuration file")

	rootCmd.AddCommand(
		buildChatCmd(),
		buildToolsCmd(),
		buildSessionsCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if env := os.Getenv("TINKER_CONFIG"); env != "" {
		return env
	}
	return "tinker.yaml"
}
