// Package cmd implements the finch command line interface: the version
// command and an in-process benchmark harness for the storage engine.
// Configuration flows through viper from flags, FINCH_* environment
// variables and .env files, in that order of precedence.
package cmd
