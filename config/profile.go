package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Profile holds the prompt and generation settings served by the gateway.
// Built-in defaults apply unless a YAML file overrides them.
type Profile struct {
	SystemPrompt      string             `mapstructure:"system_prompt" json:"system_prompt"`
	DefaultUserPrompt string             `mapstructure:"default_user_prompt" json:"default_user_prompt"`
	ModelOverride     string             `mapstructure:"model_override" json:"model_override"`
	Agent             AgentProfile       `mapstructure:"agent" json:"agent"`
	ExamplePrompts    []string           `mapstructure:"example_prompts" json:"example_prompts"`
	Examples          []AgentExample     `mapstructure:"examples" json:"examples"`
	Generation        GenerationSettings `mapstructure:"generation" json:"generation"`
}

type AgentProfile struct {
	Name        string   `mapstructure:"name" json:"name"`
	Tagline     string   `mapstructure:"tagline" json:"tagline"`
	Mission     string   `mapstructure:"mission" json:"mission"`
	FocusAreas  []string `mapstructure:"focus_areas" json:"focus_areas"`
	IdealUsers  []string `mapstructure:"ideal_users" json:"ideal_users"`
	PricingNote string   `mapstructure:"pricing_note" json:"pricing_note"`
}

type AgentExample struct {
	Title   string `mapstructure:"title" json:"title"`
	Prompt  string `mapstructure:"prompt" json:"prompt"`
	Outcome string `mapstructure:"outcome" json:"outcome"`
}

type GenerationSettings struct {
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
}

func DefaultProfile() Profile {
	return Profile{
		SystemPrompt: "You are a knowledgeable AI consultant specializing in blockchain technology, " +
			"cryptocurrency, and decentralized finance. Give clear, accurate and actionable answers.",
		DefaultUserPrompt: "Introduce yourself and briefly describe the topics you can help with.",
		Agent: AgentProfile{
			Name:    "Onchain AI Consultant",
			Tagline: "Pay-per-call guidance on Web3 and x402 payments.",
			Mission: "Provide clear, actionable advice on blockchain development and secure payment integrations.",
			FocusAreas: []string{
				"x402 payment flows and monetized APIs",
				"Smart contract security",
				"DeFi architecture and tokenomics",
			},
			IdealUsers: []string{
				"Developers integrating crypto payments",
				"Teams shipping on Base",
			},
			PricingNote: "Each call is paid in USDC on Base via x402.",
		},
		ExamplePrompts: []string{
			"Explain how the x402 payment protocol works",
			"Compare Ethereum mainnet with Base in terms of fees and speed",
			"What are the key security considerations for smart contracts?",
		},
		Examples: []AgentExample{
			{
				Title:   "Design a paid API with x402",
				Prompt:  "Outline a minimal x402 paid API on Base: pricing, wallets, facilitator setup.",
				Outcome: "Environment variables, endpoint shape and the payment flow.",
			},
		},
		Generation: GenerationSettings{
			Temperature: 0.7,
			MaxTokens:   4000,
		},
	}
}

// LoadProfile returns DefaultProfile with any keys set in the file at path
// applied on top. An empty path yields the defaults.
func LoadProfile(path string) (Profile, error) {
	defaults := DefaultProfile()
	if path == "" {
		return defaults, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return defaults, fmt.Errorf("read prompt config %s: %w", path, err)
	}

	var loaded Profile
	if err := v.Unmarshal(&loaded); err != nil {
		return defaults, fmt.Errorf("unmarshal prompt config: %w", err)
	}

	profile := mergeProfile(loaded, defaults)
	if !v.IsSet("generation.temperature") {
		profile.Generation.Temperature = defaults.Generation.Temperature
	}
	if profile.Generation.MaxTokens <= 0 {
		return defaults, fmt.Errorf("invalid prompt config: generation.max_tokens must be positive")
	}
	return profile, nil
}

// mergeProfile fills the zero fields of p from defaults.
func mergeProfile(p, defaults Profile) Profile {
	if p.SystemPrompt == "" {
		p.SystemPrompt = defaults.SystemPrompt
	}
	if p.DefaultUserPrompt == "" {
		p.DefaultUserPrompt = defaults.DefaultUserPrompt
	}
	if p.Agent.Name == "" {
		p.Agent.Name = defaults.Agent.Name
	}
	if p.Agent.Tagline == "" {
		p.Agent.Tagline = defaults.Agent.Tagline
	}
	if p.Agent.Mission == "" {
		p.Agent.Mission = defaults.Agent.Mission
	}
	if len(p.Agent.FocusAreas) == 0 {
		p.Agent.FocusAreas = defaults.Agent.FocusAreas
	}
	if len(p.Agent.IdealUsers) == 0 {
		p.Agent.IdealUsers = defaults.Agent.IdealUsers
	}
	if p.Agent.PricingNote == "" {
		p.Agent.PricingNote = defaults.Agent.PricingNote
	}
	if len(p.ExamplePrompts) == 0 {
		p.ExamplePrompts = defaults.ExamplePrompts
	}
	if len(p.Examples) == 0 {
		p.Examples = defaults.Examples
	}
	if p.Generation.MaxTokens == 0 {
		p.Generation.MaxTokens = defaults.Generation.MaxTokens
	}
	return p
}
