// Package classifier turns raw ledger error payloads into user-actionable
// messages by matching them against a catalog of known error shapes and
// resolving the opaque numeric references they contain.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AttributeResolver resolves a (attribute type, destination id) pair to the
// human-readable value synced from the ledger.
type AttributeResolver interface {
	ResolveAttribute(ctx context.Context, workspaceID int64, attributeType, destinationID string) (string, error)
}

// EntityMapper reports whether a workspace maps ledger entities to employees
// or to vendors.
type EntityMapper interface {
	EmployeeFieldMapping(ctx context.Context, workspaceID int64) (string, error)
}

// Reference is one attribute mention extracted from an error message.
type Reference struct {
	AttributeType string
	DestinationID string
	Value         string
}

// Result is the classification outcome. When Parsed is false the message is
// the raw input, untouched, and should be persisted with is_parsed unset so
// a later pass can retry once the referenced attributes are synced.
type Result struct {
	Message     string
	Parsed      bool
	ArticleLink string
	References  []Reference
}

// Service performs classification. It is stateless apart from its injected
// lookups and safe for concurrent use.
type Service struct {
	resolver AttributeResolver
	mapper   EntityMapper
}

// NewService constructs a classifier service.
func NewService(resolver AttributeResolver, mapper EntityMapper) *Service {
	return &Service{resolver: resolver, mapper: mapper}
}

var (
	numericToken = regexp.MustCompile(`\b\d+\b`)
	upperCaser   = cases.Upper(language.English)
)

// NormalizeAttributeType folds an attribute type to the canonical form used
// by destination attribute storage.
func NormalizeAttributeType(attributeType string) string {
	return strings.ReplaceAll(upperCaser.String(strings.TrimSpace(attributeType)), " ", "_")
}

// Classify matches the raw message against the single-reference templates,
// then the export type's two-reference catalog, and resolves every extracted
// reference. Translation is all or nothing: one unresolved reference returns
// the raw message unparsed rather than a half-translated one.
func (s *Service) Classify(ctx context.Context, workspaceID int64, exportType ExportType, message string) Result {
	raw := Result{Message: message, Parsed: false}

	refs, article, ok := matchSingleReference(message)
	if !ok {
		refs, article, ok = matchCatalog(exportType, message)
	}
	if !ok || len(refs) == 0 {
		return raw
	}

	resolved := make(map[string]string, len(refs))
	for i := range refs {
		attributeType := NormalizeAttributeType(refs[i].AttributeType)
		if attributeType == "ENTITY" {
			mapped, err := s.mapper.EmployeeFieldMapping(ctx, workspaceID)
			if err != nil || mapped == "" {
				return raw
			}
			attributeType = NormalizeAttributeType(mapped)
		}
		value, err := s.resolver.ResolveAttribute(ctx, workspaceID, attributeType, refs[i].DestinationID)
		if err != nil {
			return raw
		}
		refs[i].AttributeType = attributeType
		refs[i].Value = value
		resolved[refs[i].DestinationID] = value
	}

	translated := numericToken.ReplaceAllStringFunc(message, func(token string) string {
		value, ok := resolved[token]
		if !ok {
			return token
		}
		return token + " => " + value
	})

	return Result{Message: translated, Parsed: true, ArticleLink: article, References: refs}
}

func matchSingleReference(message string) ([]Reference, string, bool) {
	for _, tpl := range singleRefTemplates {
		groups := tpl.pattern.FindStringSubmatch(message)
		if groups == nil {
			continue
		}
		ref := Reference{AttributeType: groups[1], DestinationID: groups[2]}
		if tpl.inverse {
			ref = Reference{AttributeType: groups[2], DestinationID: groups[1]}
		}
		return []Reference{ref}, tpl.article, true
	}
	return nil, "", false
}

func matchCatalog(exportType ExportType, message string) ([]Reference, string, bool) {
	for _, entry := range twoRefCatalogs[exportType] {
		for _, pattern := range entry.patterns {
			if !pattern.MatchString(message) {
				continue
			}
			ids := numericToken.FindAllString(message, -1)
			refs := make([]Reference, 0, len(entry.keys))
			for i, key := range entry.keys {
				if i >= len(ids) {
					break
				}
				refs = append(refs, Reference{AttributeType: key, DestinationID: ids[i]})
			}
			return refs, entry.article, true
		}
	}
	return nil, "", false
}
