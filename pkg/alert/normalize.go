package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/roshinpv/regulateai/pkg/update"
)

type typeRule struct {
	typ   UpdateType
	terms []string
}

// typeRules is evaluated in order; the first rule with a matching term wins.
var typeRules = []typeRule{
	{TypeEnforcementAction, []string{"enforcement"}},
	{TypePressRelease, []string{"press release", "news release", "pressrelease", "newsrelease"}},
	{TypeBulletin, []string{"bulletin"}},
	{TypeAdvisory, []string{"advisory"}},
	{TypeGuidance, []string{"guidance"}},
	{TypeNotice, []string{"notice"}},
	{TypeRuleChange, []string{"rule", "regulation"}},
}

// NormalizeType maps a free-form update type label onto the closed set.
// Matching is case-insensitive; unmatched labels become TypeOther.
func NormalizeType(label string) UpdateType {
	folded := update.Fold(strings.Join(strings.Fields(label), " "))
	if folded == "" {
		return TypeOther
	}
	for _, r := range typeRules {
		for _, term := range r.terms {
			if strings.Contains(folded, term) {
				return r.typ
			}
		}
	}
	return TypeOther
}

// DedupKey identifies one real-world update regardless of how often it is
// served: the hex SHA-256 of the canonical JSON (RFC 8785) of the agency
// id, the normalized title and the publish time at second precision.
func DedupKey(agencyID, title string, published time.Time) string {
	doc := map[string]string{
		"agency_id":      strings.TrimSpace(agencyID),
		"title":          norm.NFC.String(strings.Join(strings.Fields(title), " ")),
		"published_date": published.UTC().Truncate(time.Second).Format(time.RFC3339),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err) // map[string]string always marshals
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		canon = raw
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}
