package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/madebynoam/canvai-sub001/internal/client"
)

const defaultRelayURL = "http://localhost:4748"

func main() {
	// stdout carries the MCP transport
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	flags := pflag.NewFlagSet("canvai-mcp", pflag.ExitOnError)
	relayURL := flags.String("relay", relayFromEnv(), "base URL of the canvai relay")
	_ = flags.Parse(os.Args[1:])

	log.Info().Str("relay", *relayURL).Msg("starting canvai MCP server")

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "canvai-annotations",
		Version: "v1.0.0",
	}, nil)
	registerTools(server, client.NewRelayClient(*relayURL))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("MCP server error")
	}
	log.Info().Msg("MCP server stopped")
}

func relayFromEnv() string {
	if v := os.Getenv("CANVAI_RELAY_URL"); v != "" {
		return v
	}
	return defaultRelayURL
}
