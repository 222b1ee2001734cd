package credential

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	dErrors "custodian/pkg/domain-errors"
)

//go:embed credential.schema.json
var credentialSchemaJSON []byte

var credentialSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(credentialSchemaJSON))
})

// ValidateSchema checks a raw credential document against the verifiable
// credential JSON schema.
func ValidateSchema(raw []byte) error {
	schema, err := credentialSchema()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "credential schema unavailable")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "credential is not valid json")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return dErrors.New(dErrors.CodeValidation, strings.Join(msgs, "; "))
	}
	return nil
}
