package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"vision-sim/internal/content"
	"vision-sim/internal/realtime"
	"vision-sim/internal/session"
)

func main() {
	app := &cli.App{
		Name:  "vision-sim",
		Usage: "Personal site server with the vision simulator pipeline",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Value: 8420, Usage: "HTTP listen port", EnvVars: []string{"PORT"}},
			&cli.StringFlag{Name: "static-dir", Value: "./frontend/dist", Usage: "Built frontend directory", EnvVars: []string{"STATIC_DIR"}},
			&cli.StringFlag{Name: "content-dir", Value: "./content", Usage: "Site content directory (news.json, videos.json, profile.md)", EnvVars: []string{"CONTENT_DIR"}},
			&cli.IntFlag{Name: "max-sessions", Value: 10, Usage: "Maximum concurrent capture sessions", EnvVars: []string{"MAX_SESSIONS"}},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	store, err := content.NewStore(c.String("content-dir"))
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}

	watcher, err := content.Watch(store)
	if err != nil {
		// Hot reload is a convenience; the site still serves what loaded.
		log.Printf("content watcher disabled: %v", err)
	}

	sessMgr := session.NewManager(c.Int("max-sessions"))
	rtServer := realtime.New(sessMgr, store, c.String("static-dir"))

	addr := fmt.Sprintf(":%d", c.Int("port"))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		if watcher != nil {
			watcher.Shutdown()
		}
		sessMgr.Shutdown()
		httpServer.Close()
	}()

	log.Printf("vision-sim server running on http://localhost:%d", c.Int("port"))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
