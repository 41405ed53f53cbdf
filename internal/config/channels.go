package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaharia-lab/dealnotify/internal/notification"
)

// LoadChannels reads the provider configuration YAML file at filePath.
// If the file does not exist, every channel is disabled (not an error).
// Secret values may reference the environment as ${ENV:VAR_NAME}.
func LoadChannels(filePath string) (notification.ChannelsConfig, error) {
	var cfg notification.ChannelsConfig

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from admin-configured data dir
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading channels file %q: %w", filePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing channels file %q: %w", filePath, err)
	}

	fields := map[string]*string{
		"email.smtp.host":         &cfg.Email.SMTP.Host,
		"email.smtp.username":     &cfg.Email.SMTP.Username,
		"email.smtp.password":     &cfg.Email.SMTP.Password,
		"email.smtp.from_address": &cfg.Email.SMTP.FromAddr,
		"telegram.bot_token":      &cfg.Telegram.BotToken,
		"telegram.webhook_secret": &cfg.Telegram.WebhookSecret,
		"push.app_id":             &cfg.Push.AppID,
		"push.rest_api_key":       &cfg.Push.RESTAPIKey,
	}
	for key, p := range fields {
		v, err := interpolateEnv(*p)
		if err != nil {
			return cfg, fmt.Errorf("channels file key %q: %w", key, err)
		}
		*p = v
	}

	if err := validateChannels(cfg); err != nil {
		return cfg, fmt.Errorf("channels file %q: %w", filePath, err)
	}
	return cfg, nil
}

// validateChannels rejects enabled channels that lack credentials.
func validateChannels(cfg notification.ChannelsConfig) error {
	if cfg.Email.Enabled && !cfg.Email.SMTP.Configured() {
		return fmt.Errorf("email is enabled but smtp host or from_address is missing")
	}
	if cfg.Telegram.Enabled && !cfg.Telegram.Configured() {
		return fmt.Errorf("telegram is enabled but bot_token is missing")
	}
	if cfg.Push.Enabled && !cfg.Push.Configured() {
		return fmt.Errorf("push is enabled but app_id or rest_api_key is missing")
	}
	return nil
}

// interpolateEnv replaces all ${ENV:VAR_NAME} patterns in s with the corresponding
// environment variable values. Returns an error if a referenced variable is not set.
func interpolateEnv(s string) (string, error) {
	result := s
	for {
		start := strings.Index(result, "${ENV:")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start
		varName := result[start+6 : end]
		value := os.Getenv(varName)
		if value == "" {
			return "", fmt.Errorf("required env var %q is not set", varName)
		}
		result = result[:start] + value + result[end+1:]
	}
	return result, nil
}
