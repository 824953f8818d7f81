package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dedup-api",
	Short: "CRM contact deduplication service",
	Long: `dedup-api runs asynchronous contact deduplication jobs against a CRM:
email validation from activity history, duplicate detection per account,
and batched field updates gated behind human approval checkpoints.`,
	RunE: runAPIService,
}
