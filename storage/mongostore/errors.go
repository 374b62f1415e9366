package mongostore

import (
	"errors"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/agentflow/acpctl/domain"
)

// translate maps a raw driver error to the domain.Kind taxonomy so callers
// never have to import the mongo driver to interpret a Store error.
func translate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongodriver.ErrNoDocuments):
		return domain.NotFound(format, args...)
	case mongodriver.IsDuplicateKeyError(err):
		return domain.Wrap(domain.KindDuplicate, err, format, args...)
	default:
		return domain.ServiceError(err, format, args...)
	}
}
