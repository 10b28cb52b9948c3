package usecase

import (
	"regexp"
	"strings"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

var (
	invoiceIDPattern = regexp.MustCompile(`\bINV-\d+\b`)
	ticketIDPattern  = regexp.MustCompile(`\bTIC-\d+\b`)
)

// EntityExtractor pulls business identifiers out of free-form text. Invoice
// and ticket ids follow fixed formats; vendors match against the configured
// vendor directory.
type EntityExtractor struct {
	vendors []string
}

func NewEntityExtractor(vendors []string) *EntityExtractor {
	return &EntityExtractor{vendors: vendors}
}

func (e *EntityExtractor) Extract(text string) []domain.EntityMention {
	var mentions []domain.EntityMention
	upper := strings.ToUpper(text)
	lower := strings.ToLower(text)

	for _, id := range invoiceIDPattern.FindAllString(upper, -1) {
		mentions = append(mentions, domain.EntityMention{
			EntityType: domain.EntityInvoice,
			EntityID:   id,
			EntityName: id,
			Context:    snippet(text),
			Confidence: 0.95,
		})
	}
	for _, id := range ticketIDPattern.FindAllString(upper, -1) {
		mentions = append(mentions, domain.EntityMention{
			EntityType: domain.EntityTicket,
			EntityID:   id,
			EntityName: id,
			Context:    snippet(text),
			Confidence: 0.95,
		})
	}
	for _, vendor := range e.vendors {
		if strings.Contains(lower, strings.ToLower(vendor)) {
			mentions = append(mentions, domain.EntityMention{
				EntityType: domain.EntityVendor,
				EntityName: vendor,
				Context:    snippet(text),
				Confidence: 0.8,
			})
		}
	}
	return mentions
}

// FirstVendor returns the first configured vendor mentioned in the text.
func (e *EntityExtractor) FirstVendor(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, vendor := range e.vendors {
		if strings.Contains(lower, strings.ToLower(vendor)) {
			return vendor, true
		}
	}
	return "", false
}

func snippet(text string) string {
	const maxLen = 120
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen]
}
