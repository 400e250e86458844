package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"conductor/internal/config"
	"conductor/internal/host"
	"conductor/internal/llm"
	"conductor/internal/session"
	"conductor/pkg/logging"

	"github.com/anthropics/anthropic-sdk-go"
)

// secretTokenTTL bounds how long a provisioned secret token stays resolvable.
// Tokens are consumed immediately during session startup.
const secretTokenTTL = time.Hour

// loadConfig reads and validates the configured file and initializes logging.
func loadConfig() (config.HostConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.HostConfig{}, err
	}
	logging.Init(logging.ParseLevel(cfg.Host.LogLevel), os.Stderr)
	return cfg, nil
}

// buildCaller constructs the model caller selected by configuration, wrapped
// with the transient-failure retry policy.
func buildCaller(cfg config.HostConfig) (llm.Caller, error) {
	model := cfg.Host.Model

	var caller llm.Caller
	switch model.Provider {
	case "anthropic", "":
		caller = llm.NewAnthropicCaller(func(o *llm.AnthropicOptions) {
			if model.Name != "" {
				o.Model = anthropic.Model(model.Name)
			}
			if model.Temperature > 0 {
				o.Temperature = model.Temperature
			}
			if model.MaxTokens > 0 {
				o.MaxTokens = model.MaxTokens
			}
		})
	case "openai":
		caller = llm.NewOpenAICaller(func(o *llm.OpenAIOptions) {
			if model.Name != "" {
				o.Model = model.Name
			}
			if model.Temperature > 0 {
				o.Temperature = model.Temperature
			}
			if model.MaxTokens > 0 {
				o.MaxCompletionTokens = model.MaxTokens
			}
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", model.Provider)
	}

	return llm.WithRetry(caller, 0, 0), nil
}

// buildHost assembles a host from configuration and registers every
// configured server. A server that fails to start is logged and skipped; the
// remaining sessions keep serving.
func buildHost(ctx context.Context, cfg config.HostConfig, caller llm.Caller) *host.Host {
	h := host.New(ctx, host.Settings{
		MaxIterations:        cfg.Host.MaxIterations,
		SystemPrompt:         cfg.Host.SystemPrompt,
		DefaultWeight:        cfg.Host.DefaultWeight,
		DefaultInvokeTimeout: time.Duration(cfg.Host.InvokeTimeout),
	}, nil, caller)

	for _, srv := range cfg.Servers {
		if err := registerServer(h, srv); err != nil {
			logging.Error("CLI", err, "Failed to start server %s, skipping", srv.Name)
		}
	}
	return h
}

// registerServer provisions the server's secrets into the vault and starts
// its session.
func registerServer(h *host.Host, srv config.ServerDefinition) error {
	secrets, err := provisionSecrets(h, srv)
	if err != nil {
		return err
	}
	_, err = h.RegisterSession(srv.SessionConfig(secrets))
	return err
}

// provisionSecrets moves secret values from the host environment into the
// vault and returns tokens for the supervisor to resolve. Values never touch
// a log line or the session config itself.
func provisionSecrets(h *host.Host, srv config.ServerDefinition) ([]session.SecretSpec, error) {
	specs := make([]session.SecretSpec, 0, len(srv.Secrets))
	for _, def := range srv.Secrets {
		value, ok := os.LookupEnv(def.FromEnv)
		if !ok {
			return nil, fmt.Errorf("secret source %s for server %s is not set", def.FromEnv, srv.Name)
		}

		secretID := srv.Name + "/" + def.Env
		if err := h.Vault().Store(secretID, "env", []byte(value), map[string]string{"server": srv.Name}, 0); err != nil {
			return nil, err
		}
		token, err := h.Vault().IssueToken(secretID, secretTokenTTL)
		if err != nil {
			return nil, err
		}
		specs = append(specs, session.SecretSpec{Env: def.Env, Token: token})
	}
	return specs, nil
}
