// devserver is a local stand-in for the console backend: it speaks the
// realtime wire protocol on /ws/terminal/... and /ws/clusters so the
// client transports can be exercised end to end. Terminals attach to a
// real local shell; the cluster feed is synthetic.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
)

func main() {
	port := getEnv("PORT", "8080")
	shell := getEnv("SHELL", "/bin/bash")

	feed := newClusterFeed()
	go feed.run()

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	terminals := &terminalHandler{shell: shell}
	r.GET("/ws/terminal/management", terminals.handleManagement)
	r.GET("/ws/terminal/:kind/:namespace/:cluster", terminals.handleScoped)
	r.GET("/ws/terminal/:kind/:namespace/:cluster/:pod", terminals.handleScoped)
	r.GET("/ws/terminal/:kind/:namespace/:cluster/:pod/:container", terminals.handleScoped)

	r.GET("/ws/clusters", feed.handleConnection)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down devserver...")
		feed.stop()
		os.Exit(0)
	}()

	log.Printf("devserver listening on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start devserver: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
