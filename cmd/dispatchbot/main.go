package main

import (
	"log"

	corecmd "github.com/m3rciful/dispatchbot/core/cmd"
	"github.com/m3rciful/dispatchbot/internal/bot"
	"github.com/m3rciful/dispatchbot/internal/config"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		DotEnvFiles:       []string{".env"},
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: bot.Bootstrap,
	})
	if err != nil {
		log.Fatal(err)
	}
}
