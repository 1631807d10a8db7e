package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InitViper layers the configuration sources: .env files first, then
// FINCH_* environment variables, then flags bound per command.
func InitViper() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("finch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// WrapString breaks long flag descriptions so cobra's help stays readable.
func WrapString(s string) string {
	const width = 60
	words := strings.Fields(s)
	var sb strings.Builder
	line := 0
	for i, w := range words {
		if line+len(w) > width && line > 0 {
			sb.WriteString("\n")
			line = 0
		} else if i > 0 {
			sb.WriteString(" ")
			line++
		}
		sb.WriteString(w)
		line += len(w)
	}
	return sb.String()
}
