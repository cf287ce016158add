package util

import (
	"github.com/ValentinKolb/sgkv/lib/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupEventLoopFlags adds the flags describing a simulated event loop to a command
func SetupEventLoopFlags(cmd *cobra.Command) {
	key := "slots"
	cmd.PersistentFlags().Int(key, 4, WrapString("Number of events processed concurrently, each in its own slot"))

	key = "events"
	cmd.PersistentFlags().Int(key, 1000, WrapString("Total number of events to process"))

	key = "objects"
	cmd.PersistentFlags().Int(key, 16, WrapString("Number of objects recorded in the event store per event"))

	key = "update-every"
	cmd.PersistentFlags().Int(key, 50, WrapString("Publish a new conditions version every N events (0 disables updates)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and configures viper to read SGKV_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("sgkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConfig returns the event loop configuration from the command line flags and environment variables
func GetConfig() *common.Config {
	return &common.Config{
		NumSlots:        viper.GetInt("slots"),
		NumEvents:       viper.GetInt("events"),
		ObjectsPerEvent: viper.GetInt("objects"),
		UpdateEvery:     viper.GetInt("update-every"),
		Dump:            viper.GetBool("dump"),
		Metrics:         viper.GetBool("metrics"),
		LogLevel:        viper.GetString("log-level"),
	}
}

// BindCommandFlags binds the flags of a command to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
