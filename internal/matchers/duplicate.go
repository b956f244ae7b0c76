package matchers

import (
	"context"
	"fmt"

	"mailflow/internal/engine"
	"mailflow/pkg/models"
)

// newIsDuplicate matches recipients that already received the same message
// within the detector's TTL.
func newIsDuplicate(_ engine.MatcherConfig, deps Deps) (engine.Matcher, error) {
	if deps.Duplicates == nil {
		return nil, fmt.Errorf("IsDuplicate requires a duplicate detector (redis)")
	}

	return engine.RecipientMatcher(func(ctx context.Context, mail *models.Mail, r models.Address) (bool, error) {
		return deps.Duplicates.IsDuplicate(ctx, mail, r)
	}), nil
}
