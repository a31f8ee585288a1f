// ABOUTME: Interactive "init" command that writes a starter config file
// ABOUTME: Prompts for server, database, agent and logging settings

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers holds everything runInit asks for
type initAnswers struct {
	HTTPAddr  string
	GRPCAddr  string
	DBDriver  string
	DBPath    string
	Provider  string
	Model     string
	APIKeyEnv string
	LogLevel  string
	LogFormat string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-chat configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDBPath := filepath.Join(getDataPath(), "chat.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	a.GRPCAddr = prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	a.DBDriver = prompt(reader, "Driver (sqlite/sqlite3/mysql)", "sqlite")
	if a.DBDriver != "mysql" {
		a.DBPath = prompt(reader, "SQLite database path", defaultDBPath)
	}

	fmt.Println("\n--- Agent Configuration ---")
	a.Provider = prompt(reader, "Provider (openai/ollama/gemini/echo)", "openai")
	switch a.Provider {
	case "openai":
		a.Model = prompt(reader, "Model", "gpt-4o-mini")
		a.APIKeyEnv = prompt(reader, "API key environment variable", "OPENAI_API_KEY")
	case "gemini":
		a.Model = prompt(reader, "Model", "gemini-2.0-flash")
		a.APIKeyEnv = prompt(reader, "API key environment variable", "GEMINI_API_KEY")
	case "ollama":
		a.Model = prompt(reader, "Model", "llama3.2")
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (trace/debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// may hold credentials
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(a.DBPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  coven-chat serve\n")
	return nil
}

// renderConfig produces the YAML config for the given answers.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# coven-chat configuration\n")
	cfg.WriteString("# Generated by coven-chat init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	if a.GRPCAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", a.GRPCAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", a.DBDriver))
	if a.DBDriver == "mysql" {
		cfg.WriteString("  host: \"localhost\"\n")
		cfg.WriteString("  user: \"coven\"\n")
		cfg.WriteString("  password: \"${COVEN_CHAT_DB_PASSWORD}\"\n")
		cfg.WriteString("  name: \"coven_chat\"\n")
	} else {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString(fmt.Sprintf("  provider: %q\n", a.Provider))
	if a.Model != "" {
		cfg.WriteString(fmt.Sprintf("  model: %q\n", a.Model))
	}
	if a.APIKeyEnv != "" {
		cfg.WriteString(fmt.Sprintf("  api_key: \"${%s}\"\n", a.APIKeyEnv))
	}
	cfg.WriteString("  timeout: \"2m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("heading:\n")
	cfg.WriteString("  temperature: 0.7\n")
	cfg.WriteString("  timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
