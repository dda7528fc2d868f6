package client

import (
	"fmt"
	"os"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/cli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envAPIKey = "KBINDEX_API_KEY"
	envAPIURL = "KBINDEX_API_URL"

	defaultAPIURL = "http://localhost:8080"
)

// SettingSource tells where a resolved setting came from
type SettingSource string

const (
	SourceFlag    SettingSource = "flag"
	SourceEnv     SettingSource = "env"
	SourceDefault SettingSource = "default"
	SourceNone    SettingSource = "none"
)

// Settings are the connection parameters of the client
type Settings struct {
	APIKey       string
	APIURL       string
	APIKeySource SettingSource
	APIURLSource SettingSource
}

// ResolveSettings applies the cascade flag → environment → default. A .env
// file in the working directory is loaded into the environment first
// without overriding variables that are already set.
func ResolveSettings(cmd *cobra.Command) Settings {
	_ = godotenv.Load()

	s := Settings{APIKeySource: SourceNone, APIURLSource: SourceDefault, APIURL: defaultAPIURL}

	if v := flagValue(cmd, "api-key"); v != "" {
		s.APIKey, s.APIKeySource = v, SourceFlag
	} else if v := os.Getenv(envAPIKey); v != "" {
		s.APIKey, s.APIKeySource = v, SourceEnv
	}

	if v := flagValue(cmd, "api-url"); v != "" {
		s.APIURL, s.APIURLSource = v, SourceFlag
	} else if v := os.Getenv(envAPIURL); v != "" {
		s.APIURL, s.APIURLSource = v, SourceEnv
	}
	s.APIURL = strings.TrimRight(s.APIURL, "/")

	return s
}

func flagValue(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

// NewAPIClientWithCmd resolves settings for cmd and builds a client.
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	s := ResolveSettings(cmd)
	if s.APIKey == "" {
		return nil, fmt.Errorf("%s not set (use --api-key or set the environment variable)", envAPIKey)
	}
	return NewAPIClientWithConfig(s.APIKey, s.APIURL), nil
}

// AddRootFlags registers the connection and output flags shared by every
// client command.
func AddRootFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.Bool("output", false, "Output as JSON")
	flags.String("api-key", "", "API key for authentication (overrides env)")
	flags.String("api-url", "", "API base URL (overrides env)")
	cli.BindEnv(flags, "api-key", envAPIKey)
	cli.BindEnv(flags, "api-url", envAPIURL)
}
