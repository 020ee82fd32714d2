// Package credentials loads API keys and graph database secrets from
// standard locations.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when credentials file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds secrets loaded from credentials.toml.
//
//	[llm]
//	api_key = "..."
//
//	[anthropic]
//	api_key = "..."
//
//	[neo4j]
//	uri = "neo4j+s://xxxx.databases.neo4j.io"
//	username = "neo4j"
//	password = "..."
//	database = "neo4j"
type Credentials struct {
	// LLM is the generic LLM API key (used when provider-specific key not found)
	LLM *ProviderCreds

	// Neo4j holds graph database connection secrets.
	Neo4j *Neo4jCreds

	providers map[string]*ProviderCreds
}

// ProviderCreds holds credentials for a single provider
type ProviderCreds struct {
	APIKey string `toml:"api_key"`
}

// Neo4jCreds holds the connection settings for a Neo4j database.
type Neo4jCreds struct {
	URI      string `toml:"uri"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// StandardPaths returns the standard credential file locations in order of priority
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "depsrag", "credentials.toml"),
			filepath.Join(home, ".depsrag", "credentials.toml"),
		)
	}
	return paths
}

// Load loads credentials from the first available standard location
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil // No credentials file found (not an error)
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		if mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var rawData map[string]toml.Primitive
	md, err := toml.DecodeFile(path, &rawData)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		providers: make(map[string]*ProviderCreds),
	}

	for key, prim := range rawData {
		if key == "neo4j" {
			var n Neo4jCreds
			if err := md.PrimitiveDecode(prim, &n); err != nil {
				return nil, fmt.Errorf("decoding [neo4j]: %w", err)
			}
			creds.Neo4j = &n
			continue
		}

		var pc ProviderCreds
		if err := md.PrimitiveDecode(prim, &pc); err != nil || pc.APIKey == "" {
			continue
		}
		if key == "llm" {
			creds.LLM = &pc
		} else {
			creds.providers[key] = &pc
		}
	}

	return creds, nil
}

// GetAPIKey returns the API key for a provider.
// Priority: [provider] section > [llm] section > environment variable.
// Search providers (brave, tavily) never fall back to the [llm] key.
func (c *Credentials) GetAPIKey(provider string) string {
	if c != nil {
		normalized := strings.ToLower(strings.ReplaceAll(provider, "-", ""))

		if creds, ok := c.providers[provider]; ok && creds.APIKey != "" {
			return creds.APIKey
		}
		if creds, ok := c.providers[normalized]; ok && creds.APIKey != "" {
			return creds.APIKey
		}
		if !isSearchProvider(provider) && c.LLM != nil && c.LLM.APIKey != "" {
			return c.LLM.APIKey
		}
	}

	return os.Getenv(envVarForProvider(provider))
}

// GetNeo4j returns the Neo4j settings, filling blanks from NEO4J_URI,
// NEO4J_USERNAME, NEO4J_PASSWORD and NEO4J_DATABASE.
func (c *Credentials) GetNeo4j() Neo4jCreds {
	var n Neo4jCreds
	if c != nil && c.Neo4j != nil {
		n = *c.Neo4j
	}
	if n.URI == "" {
		n.URI = os.Getenv("NEO4J_URI")
	}
	if n.Username == "" {
		n.Username = os.Getenv("NEO4J_USERNAME")
	}
	if n.Password == "" {
		n.Password = os.Getenv("NEO4J_PASSWORD")
	}
	if n.Database == "" {
		n.Database = os.Getenv("NEO4J_DATABASE")
	}
	if n.Database == "" {
		n.Database = "neo4j"
	}
	return n
}

func isSearchProvider(provider string) bool {
	return provider == "brave" || provider == "tavily"
}

// envVarForProvider returns the environment variable name for a provider.
func envVarForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai", "openai-compat":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "brave":
		return "BRAVE_API_KEY"
	case "tavily":
		return "TAVILY_API_KEY"
	default:
		// Generic: PROVIDER_API_KEY
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}
