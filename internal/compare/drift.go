package compare

import (
	"errors"

	"github.com/usestring/trafficlab/internal/schema"
	"github.com/usestring/trafficlab/pkg/types"
)

// SchemaDrift infers a schema from the captured response body and validates
// the replayed body against it. The result is not comparable when either
// side is missing or the captured body is not JSON.
func SchemaDrift(res *types.ReplayResult) (*types.SchemaDrift, error) {
	drift := &types.SchemaDrift{ReplayID: res.ID}
	switch {
	case res.OriginalResponse == nil:
		drift.Reason = "replay has no captured response to compare with"
		return drift, nil
	case res.Response == nil:
		drift.Reason = "replay produced no response"
		return drift, nil
	}

	inferred, err := schema.Infer([]byte(res.OriginalResponse.Body))
	if errors.Is(err, schema.ErrNoSamples) {
		drift.Reason = "captured response body is not JSON"
		return drift, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := schema.NewValidatorFromSchema(inferred.Schema)
	if err != nil {
		return nil, err
	}

	result := v.Validate([]byte(res.Response.Body))
	drift.Comparable = true
	drift.Valid = result.Valid
	drift.Errors = result.Errors
	drift.Schema = inferred.Schema
	return drift, nil
}
