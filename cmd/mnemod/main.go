// mnemod serves the memory engine as an MCP server over stdio, so any
// MCP-capable agent can store and recall memories through the memory_* tools.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tea-party/mnemo/memory"
	"github.com/tea-party/mnemo/memory/store/chromem"
	"github.com/tea-party/mnemo/memory/store/sqlite"
	"github.com/tea-party/mnemo/tools"
)

func main() {
	dbPath := flag.String("db", "", "SQLite database path (empty runs the in-memory store)")
	cacheSize := flag.Int64("embed-cache", memory.DefaultConfig.EmbedCacheSize, "embedding cache entries, 0 disables")
	embedderFlags(flag.CommandLine)
	flag.Parse()

	// Stdout belongs to the MCP protocol; everything else goes to stderr.
	log.SetOutput(os.Stderr)

	var store memory.BlockStore
	if *dbPath != "" {
		s, err := sqlite.Open(*dbPath)
		if err != nil {
			log.Fatal("open store", "path", *dbPath, "err", err)
		}
		store = s
	} else {
		store = chromem.New()
	}

	embedder, err := newEmbedder()
	if err != nil {
		log.Fatal("create embedder", "err", err)
	}
	engine, err := memory.NewEngine(store, embedder, &memory.Config{EmbedCacheSize: *cacheSize})
	if err != nil {
		log.Fatal("create engine", "err", err)
	}
	defer engine.Close()

	if err := engine.InitializeSchema(context.Background(), embedder.Dimensions()); err != nil {
		log.Fatal("initialize schema", "err", err)
	}

	srv := server.NewMCPServer(
		"mnemo",
		"0.1.0",
		server.WithLogging(),
	)
	tools.RegisterMemoryTools(srv, engine)

	log.Info("serving memory tools over stdio", "db", *dbPath)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatal("serve", "err", err)
	}
}
