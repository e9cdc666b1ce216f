package config

import (
	"flag"
	"os"

	"github.com/fpkiosk/fpkiosk/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g. "127.0.0.1:8977")
//	-d string   SQLite DSN of the subject store
//	-e string   engine selector ("afis" or "vector")
//	-k string   kiosk identifier
//	-s string   API token HMAC secret
//
// Args are first filtered to only the flags handled here, so flags owned
// by other packages (-c/-config) do not cause parse errors.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-e", "-k", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port for the local API")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "subject database DSN")
	fs.StringVar(&config.Engine, "e", config.Engine, "matching engine (afis|vector)")
	fs.StringVar(&config.KioskID, "k", config.KioskID, "kiosk identifier")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
