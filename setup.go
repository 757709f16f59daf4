package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/raine/sherlockcombs/internal/config"
	"github.com/raine/sherlockcombs/internal/shopping"
)

const validateTimeout = 10 * time.Second

// envOrder is the order variables are written to the config file.
var envOrder = []string{"SHOP_ENDPOINT", "ANALYZER", "GEMINI_API_KEY", "BOT_TOKEN", "ADMIN_TELEGRAM_ID"}

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
// This is used to determine if we can run the interactive setup wizard.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runSetupWizard runs an interactive wizard to collect required configuration.
// Returns true if setup was successful and the service should continue starting.
func runSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("🔎 SherlockCombs - First-time Setup"))
	fmt.Println()

	endpoint := os.Getenv("SHOP_ENDPOINT")
	analyzer := config.AnalyzerEndpoint
	var geminiKey, botToken, adminID string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Analysis Endpoint").
				Description("Base URL of the fashion analysis and shopping service, e.g. http://127.0.0.1:5000").
				Value(&endpoint).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("endpoint is required")
					}
					return validateEndpoint(s)
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Image Analyzer").
				Description("Who detects clothing, colors and style in images").
				Options(
					huh.NewOption("Analysis endpoint", config.AnalyzerEndpoint),
					huh.NewOption("Gemini", config.AnalyzerGemini),
				).
				Value(&analyzer),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gemini API Key").
				Description("Get yours at https://aistudio.google.com/apikey").
				Value(&geminiKey).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("API key is required")
					}
					return validateGeminiKey(s)
				}),
		).WithHideFunc(func() bool { return analyzer != config.AnalyzerGemini }),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token (optional)").
				Description("Message @BotFather on Telegram → /newbot → copy token. Leave empty to run only the web surface.").
				Value(&botToken).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return validateTelegramToken(s)
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Your Telegram User ID").
				Description("Message @userinfobot to get your ID: https://t.me/userinfobot").
				Value(&adminID).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("user ID is required")
					}
					if _, err := strconv.ParseInt(s, 10, 64); err != nil {
						return errors.New("must be a number")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return botToken == "" }),
	).WithTheme(huh.ThemeBase16())

	err := form.Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"SHOP_ENDPOINT": endpoint,
		"ANALYZER":      analyzer,
	}
	if analyzer == config.AnalyzerGemini {
		values["GEMINI_API_KEY"] = geminiKey
	}
	if botToken != "" {
		values["BOT_TOKEN"] = botToken
		values["ADMIN_TELEGRAM_ID"] = adminID
	}

	configPath, err := writeEnvFile(values)
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		waitOnWindows()
		return false
	}

	// Set values in current process
	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	fmt.Println("Starting SherlockCombs...")
	fmt.Println()

	return true
}

// validateEndpoint checks that the analysis service answers its health check.
func validateEndpoint(endpoint string) error {
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	client := shopping.NewClient(shopping.ClientOpts{BaseURL: endpoint, Timeout: validateTimeout})
	health, err := client.Health(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.New("connection timed out - is the service running?")
		}
		return fmt.Errorf("health check failed: %w", err)
	}
	if !health.OK() {
		return fmt.Errorf("service reports status %q", health.Status)
	}
	return nil
}

// validateTelegramToken validates a Telegram bot token by calling the getMe API.
func validateTelegramToken(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}
	_, err := resty.New().R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&result).
		Get(fmt.Sprintf("https://api.telegram.org/bot%s/getMe", token))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.New("connection timed out - check your internet")
		}
		return errors.New("connection failed - check your internet")
	}

	if !result.OK {
		if result.Description != "" {
			return errors.New(result.Description)
		}
		return errors.New("token rejected by Telegram")
	}
	return nil
}

// validateGeminiKey validates a Gemini API key with the lightweight models
// list endpoint.
func validateGeminiKey(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	var result struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	res, err := resty.New().R().
		SetContext(ctx).
		SetQueryParam("key", key).
		SetError(&result).
		Get("https://generativelanguage.googleapis.com/v1beta/models")
	if err != nil {
		return errors.New("connection failed - check your internet")
	}

	switch code := res.StatusCode(); {
	case code == 400 || code == 401 || code == 403:
		if result.Error.Message != "" {
			return errors.New(result.Error.Message)
		}
		return fmt.Errorf("API key rejected (HTTP %d)", code)
	case code != 200:
		return fmt.Errorf("unexpected response (HTTP %d)", code)
	}
	return nil
}

// writeEnvFile writes the configuration to the config file.
// Uses restrictive permissions (0600) since the file contains secrets.
// Returns the path where the config was written.
func writeEnvFile(values map[string]string) (string, error) {
	configPath, err := config.FilePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	// Write in a consistent order, quoting values to handle special characters
	for _, key := range envOrder {
		if val, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}

	return configPath, nil
}

// waitOnWindows pauses execution on Windows so users can see error messages
// before the console window closes.
func waitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}

// fatalWithWait logs a fatal error and waits on Windows before exiting.
func fatalWithWait(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Error().Msg(msg)
	waitOnWindows()
	os.Exit(1)
}
