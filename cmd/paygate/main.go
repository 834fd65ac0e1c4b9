// Command paygate serves a LINE chat bot whose chat features are unlocked by a
// LINE Pay subscription.
package main

import (
	"log"

	"github.com/m3rciful/paygate/core/cmd"
)

func main() {
	if err := cmd.Run(cmd.Options{
		DefaultConfigPath: "configs/config.yaml",
		EnvFiles:          []string{".env"},
	}); err != nil {
		log.Fatal(err)
	}
}
