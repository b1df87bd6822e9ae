package audit

import (
	"sort"
	"strings"

	"github.com/bhulekhchain/title-registry/internal/domain"
)

// HoldError reports the scopes on integrity hold, nil when none is held
func HoldError(holds map[domain.AuditResourceType]string) error {
	if len(holds) == 0 {
		return nil
	}

	scopes := make([]string, 0, len(holds))
	for rt := range holds {
		scopes = append(scopes, string(rt))
	}
	sort.Strings(scopes)
	return domain.Errorf(domain.CodeChainIntegrityViolation, "audit chain on integrity hold: %s", strings.Join(scopes, ", "))
}
