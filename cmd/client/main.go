package main

import (
	"log"
	"time"

	"kios-chat/internal/client"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg := client.EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}
	if cfg.Username == "" {
		sugar.Fatal("CHAT_USERNAME must be set")
	}

	c, err := client.Dial(sugar, cfg, cfg.Username, cfg.Avatar)
	if err != nil {
		sugar.Fatalf("Cannot connect: %v", err)
	}
	defer c.Close()

	sugar.Infof("Connected as %s", cfg.Username)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			for i, e := range c.Entries() {
				sugar.Infof("%2d. %s %s: %s", i+1, e.Avatar, e.Name, e.Preview)
			}
		}
	}()

	if err := c.Run(); err != nil {
		sugar.Fatalf("Connection closed: %v", err)
	}
}
