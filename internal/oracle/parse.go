package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"solana-hype-trader/internal/domain"
)

// ErrMalformedDecision is returned when the oracle output is not a valid decision.
var ErrMalformedDecision = errors.New("malformed decision")

var trailingObject = regexp.MustCompile(`\{[\s\S]*\}$`)

// ParseDecision decodes oracle output into a Decision. The whole text is
// tried first, then the trailing JSON object, then the text with code fences
// stripped. Missing fields take their defaults.
func ParseDecision(text string) (*domain.Decision, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedDecision)
	}

	dec, err := decodeDecision(text)
	if err == nil {
		return dec, nil
	}
	if m := trailingObject.FindString(text); m != "" {
		if dec, err2 := decodeDecision(m); err2 == nil {
			return dec, nil
		}
	}
	if dec, err2 := decodeDecision(stripFences(text)); err2 == nil {
		return dec, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
}

func stripFences(text string) string {
	text = strings.Trim(text, "`")
	text = strings.TrimPrefix(text, "json")
	return strings.TrimSpace(text)
}

func defaultDecision() domain.Decision {
	return domain.Decision{
		EventTypes: []string{"other"},
		Direction:  domain.DirectionNeutral,
		TradeProposal: domain.TradeProposal{
			Action:  domain.ActionLong,
			Weight:  0.5,
			MaxHold: "90m",
		},
	}
}

func decodeDecision(text string) (*domain.Decision, error) {
	dec := defaultDecision()
	if err := json.Unmarshal([]byte(text), &dec); err != nil {
		return nil, err
	}
	if err := validateDecision(&dec); err != nil {
		return nil, err
	}
	return &dec, nil
}

func validateDecision(d *domain.Decision) error {
	d.Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
	if d.Symbol == "" {
		return errors.New("missing symbol")
	}
	switch d.Direction {
	case domain.DirectionUp, domain.DirectionDown, domain.DirectionNeutral:
	default:
		return fmt.Errorf("invalid direction %q", d.Direction)
	}
	switch d.TradeProposal.Action {
	case domain.ActionLong, domain.ActionShort, domain.ActionFlat:
	default:
		return fmt.Errorf("invalid action %q", d.TradeProposal.Action)
	}
	if len(d.EventTypes) == 0 {
		d.EventTypes = []string{"other"}
	}
	for i, tag := range d.TradeProposal.KillSwitch {
		d.TradeProposal.KillSwitch[i] = strings.ToLower(strings.TrimSpace(tag))
	}
	return nil
}
