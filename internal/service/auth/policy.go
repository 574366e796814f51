package auth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/plany/internal/apperrors"
)

const (
	defaultPasswordMinLength = 8
	defaultPasswordMaxLength = 128

	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	digitChars   = "0123456789"
	specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// Password strength rules
// Zero lengths are replaced with defaults
type PolicyConfig struct {
	MinLength int
	MaxLength int

	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:      defaultPasswordMinLength,
		MaxLength:      defaultPasswordMaxLength,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

type policyRule struct {
	tag     string
	message string
}

// PasswordPolicy checks passwords against rules compiled into validator tags
type PasswordPolicy struct {
	validate *validator.Validate
	rules    []policyRule
}

func NewPasswordPolicy(cfg PolicyConfig) *PasswordPolicy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaultPasswordMinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultPasswordMaxLength
	}

	rules := []policyRule{
		{tag: "min=" + strconv.Itoa(cfg.MinLength), message: fmt.Sprintf("must be at least %d characters long", cfg.MinLength)},
		{tag: "max=" + strconv.Itoa(cfg.MaxLength), message: fmt.Sprintf("must be at most %d characters long", cfg.MaxLength)},
	}

	addClass := func(required bool, chars string, message string) {
		if required {
			rules = append(rules, policyRule{tag: "containsany=" + escapeTagParam(chars), message: message})
		}
	}
	addClass(cfg.RequireUpper, upperChars, "must contain an uppercase letter")
	addClass(cfg.RequireLower, lowerChars, "must contain a lowercase letter")
	addClass(cfg.RequireDigit, digitChars, "must contain a digit")
	addClass(cfg.RequireSpecial, specialChars, "must contain a special character")

	return &PasswordPolicy{
		validate: validator.New(),
		rules:    rules,
	}
}

// Check password and return apperrors.ErrWeakPassword wrapped with the first broken rule
func (p *PasswordPolicy) Check(password string) error {
	for _, rule := range p.rules {
		if err := p.validate.Var(password, rule.tag); err != nil {
			return fmt.Errorf("password %s: %w", rule.message, apperrors.ErrWeakPassword)
		}
	}
	return nil
}

// Comma and pipe separate tags, so inside a param they have to be written as utf8 hex
func escapeTagParam(param string) string {
	return strings.NewReplacer(",", "0x2C", "|", "0x7C").Replace(param)
}
